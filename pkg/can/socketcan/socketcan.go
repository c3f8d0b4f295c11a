package socketcan

import (
	"sync"

	sockcan "github.com/brutella/can"
	can "github.com/samsamfire/golevcan/pkg/can"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can
// Frame IDs keep the linux CAN_EFF_FLAG / CAN_RTR_FLAG bits, which is
// the same convention as [can.CanEffFlag] and [can.CanRtrFlag].

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	bus        *sockcan.Bus
	rxCallback can.FrameListener
	filters    []can.Filter
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	go func() {
		err := socketcan.bus.ConnectAndPublish()
		if err != nil {
			return
		}
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame can.Frame) error {
	return socketcan.bus.Publish(
		sockcan.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  frame.Flags,
			Res0:   0,
			Res1:   0,
			Data:   frame.Data,
		})
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	socketcan.mu.Lock()
	socketcan.rxCallback = rxCallback
	socketcan.mu.Unlock()
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// Acceptance filters are applied in software, brutella/can does not
// expose CAN_RAW_FILTER
func (socketcan *SocketcanBus) SetFilters(filters []can.Filter) error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	socketcan.filters = append([]can.Filter(nil), filters...)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.mu.Lock()
	callback := socketcan.rxCallback
	filters := socketcan.filters
	socketcan.mu.Unlock()
	if callback == nil || !accepted(filters, frame.ID) {
		return
	}
	// Convert brutella frame to our frame
	callback.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}

func accepted(filters []can.Filter, id uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Match(id) {
			return true
		}
	}
	return false
}

func NewSocketCanBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}
