package levcan

import (
	"sync"

	"github.com/samsamfire/golevcan/internal/fifo"
	can "github.com/samsamfire/golevcan/pkg/can"
	log "github.com/sirupsen/logrus"
)

// DefaultTxQueueSize is the number of frames buffered in front of the bus
const DefaultTxQueueSize = 64

type rxListener struct {
	filter   can.Filter
	listener can.FrameListener
}

// Bus manager is a wrapper around the CAN bus interface.
// It plays the HAL role for the protocol stack : a bounded transmit queue
// with backpressure, listener dispatch and acceptance filter programming.
type BusManager struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	logger    *log.Entry
	bus       can.Bus // Bus interface that can be adapted
	listeners []*rxListener
	txQueue   *fifo.Fifo
	filters   map[any][]can.Filter
	canError  uint16
}

func NewBusManager(bus can.Bus, logger *log.Logger, txQueueSize uint16) *BusManager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if txQueueSize == 0 {
		txQueueSize = DefaultTxQueueSize
	}
	return &BusManager{
		bus:     bus,
		logger:  logger.WithField("service", "[CAN]"),
		txQueue: fifo.NewFifo(txQueueSize),
		filters: map[any][]can.Filter{},
	}
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	listeners := make([]*rxListener, len(bm.listeners))
	copy(listeners, bm.listeners)
	bm.mu.Unlock()
	for _, l := range listeners {
		if l.filter.Match(frame.ID) {
			l.listener.Handle(frame)
		}
	}
}

// Set bus
func (bm *BusManager) SetBus(bus can.Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Subscribe a listener to frames matching ident & mask.
// The returned function cancels the subscription
func (bm *BusManager) Subscribe(ident uint32, mask uint32, listener can.FrameListener) (func(), error) {
	if listener == nil {
		bm.logger.Error("rx subscription needs a frame listener")
		return nil, ErrIllegalArgument
	}
	sub := &rxListener{filter: can.Filter{Ident: ident, Mask: mask}, listener: listener}
	bm.mu.Lock()
	bm.listeners = append(bm.listeners, sub)
	bm.mu.Unlock()
	return func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		for i, l := range bm.listeners {
			if l == sub {
				bm.listeners = append(bm.listeners[:i], bm.listeners[i+1:]...)
				return
			}
		}
	}, nil
}

// Send a CAN message.
// The frame is queued then the queue is flushed to the bus as far as the
// bus accepts. [ErrBufferFull] is returned when the queue is full, frames
// left in the queue are retried on [BusManager.Process]
func (bm *BusManager) Send(frame can.Frame) error {
	bm.txMu.Lock()
	defer bm.txMu.Unlock()
	if !bm.txQueue.Write(frame) {
		bm.canError |= can.CanErrorTxOverflow
		return ErrBufferFull
	}
	bm.flush()
	return nil
}

// TxQueueNearFull reports whether the transmit queue is 75% full or more
func (bm *BusManager) TxQueueNearFull() bool {
	bm.txMu.Lock()
	defer bm.txMu.Unlock()
	return bm.txQueue.GetOccupied()*4 >= bm.txQueue.Cap()*3
}

// Pending returns the number of frames waiting for the bus
func (bm *BusManager) Pending() int {
	bm.txMu.Lock()
	defer bm.txMu.Unlock()
	return bm.txQueue.GetOccupied()
}

func (bm *BusManager) flush() {
	bus := bm.Bus()
	if bus == nil {
		return
	}
	for {
		frame, ok := bm.txQueue.Peek()
		if !ok {
			return
		}
		err := bus.Send(frame)
		if err != nil {
			bm.logger.Debugf("bus busy, %v frames pending : %v", bm.txQueue.GetOccupied(), err)
			return
		}
		bm.txQueue.Read()
	}
}

// This should be called cyclically to retry queued frames
func (bm *BusManager) Process() error {
	bm.txMu.Lock()
	defer bm.txMu.Unlock()
	bm.flush()
	if bm.txQueue.GetOccupied() == 0 {
		bm.canError &^= can.CanErrorTxOverflow
	}
	return nil
}

// CreateFilterMasks replaces the acceptance filters requested by owner and
// programs the union of every owner's filters on the bus, when supported
func (bm *BusManager) CreateFilterMasks(owner any, filters []can.Filter) error {
	bm.mu.Lock()
	if len(filters) == 0 {
		delete(bm.filters, owner)
	} else {
		bm.filters[owner] = append([]can.Filter(nil), filters...)
	}
	all := []can.Filter{}
	for _, f := range bm.filters {
		all = appendUnique(all, f...)
	}
	bus := bm.bus
	bm.mu.Unlock()

	setter, ok := bus.(can.FilterSetter)
	if !ok {
		return nil
	}
	bm.logger.Debugf("programming %v acceptance filters", len(all))
	return setter.SetFilters(all)
}

func appendUnique(filters []can.Filter, add ...can.Filter) []can.Filter {
	for _, f := range add {
		found := false
		for _, existing := range filters {
			if existing == f {
				found = true
				break
			}
		}
		if !found {
			filters = append(filters, f)
		}
	}
	return filters
}

// Get CAN error
func (bm *BusManager) Error() uint16 {
	bm.txMu.Lock()
	defer bm.txMu.Unlock()
	return bm.canError
}
