// Package loopback provides an in-process CAN bus.
// Every [Bus] attached to the same [Hub] receives the frames sent by the
// other buses of the hub, synchronously and in send order.
// It is intended for tests and simulations running several nodes in a
// single process.
package loopback

import (
	"errors"
	"sync"

	can "github.com/samsamfire/golevcan/pkg/can"
)

func init() {
	can.RegisterInterface("loopback", newNamedBus)
}

var ErrDisconnected = errors.New("loopback bus is not connected")

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// Hub is a shared medium
type Hub struct {
	mu       sync.Mutex
	buses    []*Bus
	monitors []can.FrameListener
	drop     func(frame can.Frame) bool
}

func NewHub() *Hub {
	return &Hub{}
}

// NewBus creates a new bus attached to the hub
func (h *Hub) NewBus() *Bus {
	return &Bus{hub: h}
}

// Monitor registers a listener receiving every frame sent on the hub,
// regardless of filters
func (h *Hub) Monitor(listener can.FrameListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.monitors = append(h.monitors, listener)
}

// SetDropper installs a function deciding whether a sent frame is lost.
// Used to simulate bus errors
func (h *Hub) SetDropper(drop func(frame can.Frame) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = drop
}

func (h *Hub) attach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.buses {
		if existing == b {
			return
		}
	}
	h.buses = append(h.buses, b)
}

func (h *Hub) detach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.buses {
		if existing == b {
			h.buses = append(h.buses[:i], h.buses[i+1:]...)
			return
		}
	}
}

func (h *Hub) broadcast(sender *Bus, frame can.Frame) {
	h.mu.Lock()
	monitors := append([]can.FrameListener(nil), h.monitors...)
	buses := append([]*Bus(nil), h.buses...)
	drop := h.drop
	h.mu.Unlock()

	for _, m := range monitors {
		m.Handle(frame)
	}
	if drop != nil && drop(frame) {
		return
	}
	for _, b := range buses {
		if b == sender && !b.receiveOwn {
			continue
		}
		b.deliver(frame)
	}
}

// Bus is one controller attached to a [Hub]
type Bus struct {
	mu         sync.Mutex
	hub        *Hub
	connected  bool
	receiveOwn bool
	listener   can.FrameListener
	filters    []can.Filter
}

// Buses created through [can.NewBus] share a hub per channel name
func newNamedBus(channel string) (can.Bus, error) {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	hub, ok := hubs[channel]
	if !ok {
		hub = NewHub()
		hubs[channel] = hub
	}
	return hub.NewBus(), nil
}

func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.hub.attach(b)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.hub.detach(b)
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return ErrDisconnected
	}
	b.hub.broadcast(b, frame)
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) SetFilters(filters []can.Filter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append([]can.Filter(nil), filters...)
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) deliver(frame can.Frame) {
	b.mu.Lock()
	listener := b.listener
	filters := b.filters
	b.mu.Unlock()
	if listener == nil {
		return
	}
	if len(filters) > 0 {
		match := false
		for _, f := range filters {
			if f.Match(frame.ID) {
				match = true
				break
			}
		}
		if !match {
			return
		}
	}
	listener.Handle(frame)
}
