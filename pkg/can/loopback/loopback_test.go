package loopback

import (
	"sync"
	"testing"

	can "github.com/samsamfire/golevcan/pkg/can"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *recorder) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func TestBroadcast(t *testing.T) {
	hub := NewHub()
	b1, b2, b3 := hub.NewBus(), hub.NewBus(), hub.NewBus()
	r1, r2, r3, mon := &recorder{}, &recorder{}, &recorder{}, &recorder{}
	for i, b := range []*Bus{b1, b2, b3} {
		assert.Nil(t, b.Connect())
		assert.Nil(t, b.Subscribe([]*recorder{r1, r2, r3}[i]))
	}
	hub.Monitor(mon)

	assert.Nil(t, b1.Send(can.Frame{ID: 0x10, DLC: 1}))
	assert.Len(t, r1.frames, 0)
	assert.Len(t, r2.frames, 1)
	assert.Len(t, r3.frames, 1)
	assert.Len(t, mon.frames, 1)

	t.Run("filters", func(t *testing.T) {
		assert.Nil(t, b3.SetFilters([]can.Filter{{Ident: 0x20, Mask: 0xFF}}))
		assert.Nil(t, b1.Send(can.Frame{ID: 0x10}))
		assert.Nil(t, b1.Send(can.Frame{ID: 0x20}))
		assert.Len(t, r2.frames, 3)
		assert.Len(t, r3.frames, 2)
	})

	t.Run("dropper", func(t *testing.T) {
		hub.SetDropper(func(frame can.Frame) bool { return frame.ID == 0x30 })
		assert.Nil(t, b1.Send(can.Frame{ID: 0x30}))
		assert.Len(t, r2.frames, 3)
		assert.Len(t, mon.frames, 4)
		hub.SetDropper(nil)
	})

	t.Run("disconnected", func(t *testing.T) {
		assert.Nil(t, b2.Disconnect())
		assert.ErrorIs(t, b2.Send(can.Frame{}), ErrDisconnected)
		assert.Nil(t, b1.Send(can.Frame{ID: 0x20}))
		assert.Len(t, r2.frames, 3)
	})
}

func TestNamedHub(t *testing.T) {
	bus1, err := can.NewBus("loopback", "test-named", 0)
	assert.Nil(t, err)
	bus2, _ := can.NewBus("loopback", "test-named", 0)
	r := &recorder{}
	assert.Nil(t, bus1.Connect())
	assert.Nil(t, bus2.Connect())
	assert.Nil(t, bus2.Subscribe(r))
	assert.Nil(t, bus1.Send(can.Frame{ID: 1}))
	assert.Len(t, r.frames, 1)
}
