// Package transport segments application payloads into CAN frames and
// reassembles them, in reliable (acknowledged) or unreliable (burst) mode.
package transport

import (
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/samsamfire/golevcan/pkg/od"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeoutMs = 1500 // global message timeout
	RetryPeriodMs    = 100  // no activity delay before a reliable chunk is resent
	MaxAttempts      = 3
)

// Bus is what the transport needs from the HAL, implemented by [levcan.BusManager]
type Bus interface {
	Send(frame can.Frame) error
	TxQueueNearFull() bool
}

// Transport holds the outbound and inbound transfers of one node
type Transport struct {
	mu        sync.Mutex
	logger    *log.Entry
	bus       Bus
	od        *od.ObjectDictionary
	pool      *Pool
	outbound  tcbList
	inbound   tcbList
	timeoutMs int
	trace     func(msg string)
	traces    []string // collected under mu, fired by unlock
}

// NewTransport creates a transport sending on bus and delivering completed
// messages to odict. A nil pool is an unlimited heap pool, timeoutMs <= 0
// uses [DefaultTimeoutMs]
func NewTransport(bus Bus, odict *od.ObjectDictionary, logger *log.Logger, pool *Pool, timeoutMs int) *Transport {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if pool == nil {
		pool = NewHeapPool(0)
	}
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	return &Transport{
		logger:    logger.WithField("service", "[TRANSPORT]"),
		bus:       bus,
		od:        odict,
		pool:      pool,
		timeoutMs: timeoutMs,
	}
}

// OnTrace registers a hook receiving diagnostics of background failures
func (t *Transport) OnTrace(fn func(msg string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trace = fn
}

// tracef queues a diagnostic, mu must be held
func (t *Transport) tracef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.logger.Warn(msg)
	t.traces = append(t.traces, msg)
}

// unlock releases mu then calls the trace hook with the queued diagnostics
func (t *Transport) unlock() {
	traces := t.traces
	t.traces = nil
	fn := t.trace
	t.mu.Unlock()
	if fn == nil {
		return
	}
	for _, msg := range traces {
		fn(msg)
	}
}

// Pending returns the number of outbound and inbound transfers in progress
func (t *Transport) Pending() (outbound int, inbound int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outbound.len, t.inbound.len
}

// Send starts the transfer of entry with header h (source, target, message id).
// The returned channel receives the transfer result once it ends : nil,
// or [levcan.ErrTimeout] when a reliable transfer was abandoned.
// [levcan.ErrCollision] is returned if the same transfer is already in progress
func (t *Transport) Send(entry *od.Entry, h levcan.Header) (<-chan error, error) {
	payload, err := entry.Payload()
	if err != nil {
		return nil, err
	}
	if entry.Size < 0 {
		payload = stringPayload(payload, -entry.Size)
	}
	h.Priority = entry.Priority
	h.EoM, h.RTS, h.Parity, h.Request = false, false, false, false
	reliable := entry.Reliable && h.Target != levcan.BroadcastAddress

	t.mu.Lock()
	defer t.unlock()

	if t.outbound.find(h.MsgID, h.Source, h.Target) != nil {
		return nil, fmt.Errorf("sending x%x %d->%d : %w", h.MsgID, h.Source, h.Target, levcan.ErrCollision)
	}

	done := make(chan error, 1)
	if len(payload) == 0 || !reliable && entry.Size == len(payload) && len(payload) <= 8 {
		h.RTS, h.EoM = true, true
		err := t.bus.Send(h.Frame(payload))
		if err != nil {
			return nil, err
		}
		t.logger.Debugf("sent single frame %v", h)
		if entry.Cleanup {
			entry.Release()
		}
		done <- nil
		return done, nil
	}

	tcb, err := t.pool.Acquire()
	if err != nil {
		return nil, err
	}
	tcb.header = h
	tcb.entry = entry
	tcb.data = payload
	tcb.reliable = reliable
	tcb.done = done
	t.outbound.pushBack(tcb)
	t.logger.Debugf("new outbound transfer %v (reliable %v)", tcb, reliable)
	t.proceedSend(tcb, nil)
	return done, nil
}

// stringPayload cuts a variable length payload after its null terminator
func stringPayload(payload []byte, maxSize int) []byte {
	if len(payload) > maxSize {
		payload = payload[:maxSize]
	}
	for i, b := range payload {
		if b == 0 {
			return payload[:i+1]
		}
	}
	return payload
}

// proceedSend advances an outbound transfer, in is the acknowledgement
// that triggered it if any
func (t *Transport) proceedSend(tcb *TCB, in *levcan.Header) {
	if in != nil {
		if in.EoM {
			t.logger.Debugf("transfer %v acknowledged by receiver", tcb)
			t.finish(tcb, nil)
			return
		}
		if tcb.pending > 0 && (tcb.position >= len(tcb.data) || in.Parity != Parity(tcb.position)) {
			t.logger.Debugf("receiver missed last chunk of %v, resending", tcb)
			tcb.rollback()
		} else {
			tcb.pending = 0
		}
		tcb.attempt = 0
		tcb.idle = 0
	}
	for tcb.position < len(tcb.data) {
		if tcb.reliable && tcb.pending > 0 {
			// Waiting for acknowledgement
			return
		}
		n := min(len(tcb.data)-tcb.position, 8)
		h := tcb.header
		h.RTS = tcb.position == 0
		h.EoM = tcb.position+n == len(tcb.data)
		if tcb.reliable {
			h.Parity = chunkParity(tcb.position + n)
		}
		err := t.bus.Send(h.Frame(tcb.data[tcb.position : tcb.position+n]))
		if err != nil {
			t.logger.Debugf("could not send chunk of %v : %v", tcb, err)
			return
		}
		tcb.position += n
		tcb.retry = 0
		if tcb.reliable {
			tcb.pending = n
			return
		}
		tcb.idle = 0
		if h.EoM {
			t.finish(tcb, nil)
			return
		}
		if t.bus.TxQueueNearFull() {
			return
		}
	}
}

// rollback to the start of the unacknowledged chunk
func (tcb *TCB) rollback() {
	tcb.position -= tcb.pending
	tcb.pending = 0
}

// finish removes an outbound transfer and reports its result
func (t *Transport) finish(tcb *TCB, err error) {
	t.outbound.remove(tcb)
	if tcb.entry != nil && tcb.entry.Cleanup {
		tcb.entry.Release()
	}
	if tcb.done != nil {
		tcb.done <- err
	}
	t.pool.Release(tcb)
}

// abort removes an inbound transfer
func (t *Transport) abort(tcb *TCB) {
	t.inbound.remove(tcb)
	t.pool.Release(tcb)
}

// ProceedReceive consumes a data frame or an acknowledgement addressed to
// this node. Requests are not handled here.
// Completed messages are delivered to the object dictionary
func (t *Transport) ProceedReceive(frame can.Frame) {
	h := levcan.HeaderOf(frame)
	data := frame.Data[:min(frame.DLC, 8)]

	t.mu.Lock()
	message, complete := t.receive(h, data)
	t.unlock()

	if complete {
		t.deliver(message)
	}
}

func (t *Transport) receive(h levcan.Header, data []byte) (od.Message, bool) {
	// Acknowledgement of one of our reliable transfers
	if len(data) == 0 && h.RTS != h.EoM {
		if tcb := t.outbound.find(h.MsgID, h.Target, h.Source); tcb != nil && tcb.reliable {
			t.proceedSend(tcb, &h)
			return od.Message{}, false
		}
		t.logger.Debugf("dropping stray acknowledgement %v", h)
		return od.Message{}, false
	}

	tcb := t.inbound.find(h.MsgID, h.Source, h.Target)
	if h.RTS {
		if tcb != nil {
			if tcb.position != 0 {
				t.logger.Debugf("dropping duplicate start of %v", tcb)
				if tcb.reliable {
					t.acknowledge(tcb, false)
				}
				return od.Message{}, false
			}
		} else {
			// First chunk parity is always set in reliable mode, a short
			// reliable payload still goes through a transfer to be acknowledged
			if !h.Parity && h.EoM {
				return od.Message{Header: messageHeader(h), Payload: append([]byte(nil), data...)}, true
			}
			var err error
			tcb, err = t.pool.Acquire()
			if err != nil {
				t.tracef("dropping x%x from %d, no transfer available : %v", h.MsgID, h.Source, err)
				return od.Message{}, false
			}
			tcb.header = messageHeader(h)
			tcb.reliable = h.Parity
			t.inbound.pushBack(tcb)
		}
	} else if tcb == nil {
		t.logger.Debugf("dropping stray chunk %v", h)
		return od.Message{}, false
	}

	if tcb.reliable && h.Parity != chunkParity(tcb.position+len(data)) {
		t.logger.Debugf("dropping duplicate chunk of %v", tcb)
		t.acknowledge(tcb, false)
		return od.Message{}, false
	}
	err := tcb.append(data)
	if err != nil {
		t.tracef("aborting inbound %v : %v", tcb, err)
		t.abort(tcb)
		return od.Message{}, false
	}
	tcb.idle = 0
	tcb.attempt = 0
	if tcb.reliable {
		t.acknowledge(tcb, h.EoM)
	}
	if !h.EoM {
		return od.Message{}, false
	}
	message := od.Message{Header: tcb.header}
	if tcb.static {
		message.Payload = append([]byte(nil), tcb.data[:tcb.position]...)
	} else {
		message.Payload = tcb.data[:tcb.position]
	}
	t.logger.Debugf("inbound transfer %v complete", tcb)
	t.abort(tcb)
	return message, true
}

func messageHeader(h levcan.Header) levcan.Header {
	return levcan.Header{Source: h.Source, Target: h.Target, MsgID: h.MsgID, Priority: h.Priority}
}

// acknowledge the current position of a reliable inbound transfer
func (t *Transport) acknowledge(tcb *TCB, complete bool) {
	h := tcb.header.Reply()
	h.Parity = Parity(tcb.position)
	h.EoM = complete
	h.RTS = !complete
	err := t.bus.Send(h.Frame(nil))
	if err != nil {
		t.logger.Debugf("could not acknowledge %v : %v", tcb, err)
	}
}

// deliver a complete message to the object dictionary
func (t *Transport) deliver(m od.Message) {
	entry, err := t.od.FindRecord(m.Header.MsgID, len(m.Payload), od.Write, m.Header.Source)
	if err == nil {
		err = entry.Deliver(m)
	}
	if err != nil {
		t.mu.Lock()
		t.tracef("discarding x%x from %d : %v", m.Header.MsgID, m.Header.Source, err)
		t.unlock()
	}
}

// Process ages every transfer by elapsedMs : reliable transfers without
// activity are resent then abandoned, unreliable ones continue their burst,
// any transfer idle for longer than the message timeout is deleted
func (t *Transport) Process(elapsedMs int) {
	t.mu.Lock()
	defer t.unlock()

	t.outbound.each(func(tcb *TCB) {
		tcb.idle += elapsedMs
		tcb.retry += elapsedMs
		switch {
		case tcb.idle > t.timeoutMs:
			t.tracef("outbound %v timed out", tcb)
			t.finish(tcb, levcan.ErrTimeout)
		case !tcb.reliable:
			t.proceedSend(tcb, nil)
		case tcb.retry >= RetryPeriodMs:
			if tcb.attempt >= MaxAttempts {
				t.tracef("outbound %v abandoned after %d attempts", tcb, tcb.attempt)
				t.finish(tcb, levcan.ErrTimeout)
				return
			}
			tcb.attempt++
			tcb.retry = 0
			tcb.rollback()
			t.logger.Debugf("retrying %v, attempt %d", tcb, tcb.attempt)
			t.proceedSend(tcb, nil)
		}
	})

	t.inbound.each(func(tcb *TCB) {
		tcb.idle += elapsedMs
		if tcb.idle > t.timeoutMs {
			t.tracef("inbound %v timed out", tcb)
			t.abort(tcb)
		}
	})
}
