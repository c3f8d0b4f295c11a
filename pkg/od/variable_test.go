package od

import (
	"errors"
	"testing"

	levcan "github.com/samsamfire/golevcan"
	"github.com/stretchr/testify/assert"
)

func TestVariableAccessors(t *testing.T) {
	v := NewVariable(4)
	v.SetUint32(0x11223344)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, v.Bytes())
	assert.EqualValues(t, 0x44, v.Uint8())
	assert.EqualValues(t, 0x3344, v.Uint16())
	assert.EqualValues(t, 0x11223344, v.Uint32())

	// Bytes is a copy
	b := v.Bytes()
	b[0] = 0
	assert.EqualValues(t, 0x44, v.Uint8())

	small := NewVariable(1)
	assert.Equal(t, 1, small.Write([]byte{1, 2, 3}))
	assert.EqualValues(t, 0, small.Uint32())
}

func TestSlotString(t *testing.T) {
	s := NewSlot([]byte("motor\x00xx"))
	assert.Equal(t, "motor", s.String())
	s.Store([]byte("display"))
	assert.Equal(t, "display", s.String())
}

func TestPayloadAndRelease(t *testing.T) {
	slot := NewSlot([]byte("abc"))
	entry := &Entry{Name: "name", Attributes: Attributes{Readable: true, Cleanup: true}, Size: -8, Value: slot}
	data, err := entry.Payload()
	assert.Nil(t, err)
	assert.Equal(t, []byte("abc"), data)
	entry.Release()
	assert.Nil(t, slot.Load())

	fn := &Entry{Value: Func(func(m Message) {})}
	data, err = fn.Payload()
	assert.Nil(t, err)
	assert.Nil(t, data)

	queue := &Entry{Value: make(Queue, 1)}
	_, err = queue.Payload()
	assert.True(t, errors.Is(err, levcan.ErrAccess))
}
