package levcan

import (
	"errors"
	"sync"
	"testing"

	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/samsamfire/golevcan/pkg/can/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

// A bus refusing frames while busy is set
type busyBus struct {
	busy    bool
	sent    []can.Frame
	filters []can.Filter
}

func (b *busyBus) Connect(...any) error                 { return nil }
func (b *busyBus) Disconnect() error                    { return nil }
func (b *busyBus) Subscribe(can.FrameListener) error    { return nil }
func (b *busyBus) SetFilters(filters []can.Filter) error { b.filters = filters; return nil }
func (b *busyBus) Send(frame can.Frame) error {
	if b.busy {
		return errors.New("busy")
	}
	b.sent = append(b.sent, frame)
	return nil
}

func TestBusManagerQueue(t *testing.T) {
	bus := &busyBus{busy: true}
	bm := NewBusManager(bus, nil, 4)
	for i := range 3 {
		assert.Nil(t, bm.Send(can.Frame{ID: uint32(i)}))
	}
	assert.True(t, bm.TxQueueNearFull())
	assert.Nil(t, bm.Send(can.Frame{ID: 3}))
	assert.ErrorIs(t, bm.Send(can.Frame{ID: 4}), ErrBufferFull)
	assert.NotZero(t, bm.Error()&can.CanErrorTxOverflow)

	bus.busy = false
	assert.Nil(t, bm.Process())
	assert.Len(t, bus.sent, 4)
	assert.Equal(t, 0, bm.Pending())
	assert.False(t, bm.TxQueueNearFull())
	assert.Zero(t, bm.Error())
	for i, frame := range bus.sent {
		assert.EqualValues(t, i, frame.ID)
	}
}

func TestBusManagerSubscribe(t *testing.T) {
	hub := loopback.NewHub()
	bus1, bus2 := hub.NewBus(), hub.NewBus()
	require.Nil(t, bus1.Connect())
	require.Nil(t, bus2.Connect())
	bm := NewBusManager(bus2, nil, 0)
	require.Nil(t, bus2.Subscribe(bm))

	rec20, recAll := &frameRecorder{}, &frameRecorder{}
	f := TargetFilter(20)
	cancel, err := bm.Subscribe(f.Ident, f.Mask, rec20)
	require.Nil(t, err)
	_, err = bm.Subscribe(0, 0, recAll)
	require.Nil(t, err)
	_, err = bm.Subscribe(0, 0, nil)
	assert.ErrorIs(t, err, ErrIllegalArgument)

	require.Nil(t, bus1.Send(Header{Source: 1, Target: 20}.Frame(nil)))
	require.Nil(t, bus1.Send(Header{Source: 1, Target: 21}.Frame(nil)))
	assert.Len(t, rec20.frames, 1)
	assert.Len(t, recAll.frames, 2)

	cancel()
	require.Nil(t, bus1.Send(Header{Source: 1, Target: 20}.Frame(nil)))
	assert.Len(t, rec20.frames, 1)
	assert.Len(t, recAll.frames, 3)
}

func TestBusManagerFilters(t *testing.T) {
	bus := &busyBus{}
	bm := NewBusManager(bus, nil, 0)
	ownerA, ownerB := "a", "b"
	assert.Nil(t, bm.CreateFilterMasks(ownerA, []can.Filter{TargetFilter(BroadcastAddress), TargetFilter(10)}))
	assert.Nil(t, bm.CreateFilterMasks(ownerB, []can.Filter{TargetFilter(BroadcastAddress), TargetFilter(11)}))
	assert.Len(t, bus.filters, 3)
	assert.Nil(t, bm.CreateFilterMasks(ownerA, nil))
	assert.ElementsMatch(t, []can.Filter{TargetFilter(BroadcastAddress), TargetFilter(11)}, bus.filters)
}
