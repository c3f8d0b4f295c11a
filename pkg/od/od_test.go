package od

import (
	"testing"

	levcan "github.com/samsamfire/golevcan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rw = Attributes{Readable: true, Writable: true}

func TestFindRecordSize(t *testing.T) {
	od := NewOD()
	exact := od.AddVariable(0x100, "exact", 4, rw)
	od.AddString(0x100, "bounded", 16, rw, "hello")

	t.Run("exact size wins when first", func(t *testing.T) {
		entry, err := od.FindRecord(0x100, 4, Write, 3)
		require.Nil(t, err)
		assert.Equal(t, exact, entry.Value)
	})
	t.Run("variable length bound", func(t *testing.T) {
		entry, err := od.FindRecord(0x100, 10, Write, 3)
		require.Nil(t, err)
		assert.Equal(t, "bounded", entry.Name)
		entry, err = od.FindRecord(0x100, 16, Write, 3)
		require.Nil(t, err)
		assert.Equal(t, "bounded", entry.Name)
	})
	t.Run("too long", func(t *testing.T) {
		_, err := od.FindRecord(0x100, 17, Write, 3)
		assert.ErrorIs(t, err, levcan.ErrObject)
	})
	t.Run("sizeless read", func(t *testing.T) {
		entry, err := od.FindRecord(0x100, 0, Read, 3)
		require.Nil(t, err)
		assert.Equal(t, "exact", entry.Name)
	})
	t.Run("empty write", func(t *testing.T) {
		// Only variable length entries accept an empty payload
		entry, err := od.FindRecord(0x100, 0, Write, 3)
		require.Nil(t, err)
		assert.Equal(t, "bounded", entry.Name)
		fixed := NewOD()
		fixed.AddVariable(0x100, "exact", 4, rw)
		_, err = fixed.FindRecord(0x100, 0, Write, 3)
		assert.ErrorIs(t, err, levcan.ErrObject)
	})
	t.Run("unknown id", func(t *testing.T) {
		_, err := od.FindRecord(0x101, 4, Write, 3)
		assert.ErrorIs(t, err, levcan.ErrObject)
	})
}

func TestFindRecordAccess(t *testing.T) {
	od := NewOD()
	od.AddVariable(0x10, "ro", 2, Attributes{Readable: true})
	od.AddVariable(0x11, "wo", 2, Attributes{Writable: true})

	_, err := od.FindRecord(0x10, 2, Read, 1)
	assert.Nil(t, err)
	_, err = od.FindRecord(0x10, 2, Write, 1)
	assert.ErrorIs(t, err, levcan.ErrObject)
	_, err = od.FindRecord(0x11, 2, Write, 1)
	assert.Nil(t, err)
	_, err = od.FindRecord(0x11, 0, Read, 1)
	assert.ErrorIs(t, err, levcan.ErrObject)
}

func TestFindRecordNodeFilter(t *testing.T) {
	od := NewOD()
	only5 := &Entry{Name: "only5", MsgID: 0x20, Attributes: rw, Size: 1, NodeID: 5, Value: NewVariable(1)}
	od.Add(only5)
	_, err := od.FindRecord(0x20, 1, Write, 6)
	assert.ErrorIs(t, err, levcan.ErrObject)
	entry, err := od.FindRecord(0x20, 1, Write, 5)
	assert.Nil(t, err)
	assert.Equal(t, only5, entry)
}

func TestFindRecordRecords(t *testing.T) {
	od := NewOD()
	for5 := &Entry{Attributes: rw, Size: 2, NodeID: 5, Value: NewVariable(2)}
	anyone := &Entry{Attributes: Attributes{Readable: true}, Size: 2, NodeID: levcan.BroadcastAddress, Value: NewVariable(2)}
	od.AddRecords(0x30, "per node", for5, anyone)

	entry, err := od.FindRecord(0x30, 2, Write, 5)
	require.Nil(t, err)
	assert.Equal(t, for5, entry)
	assert.EqualValues(t, 0x30, entry.MsgID)

	// Node 6 only gets the read only variant
	_, err = od.FindRecord(0x30, 2, Write, 6)
	assert.ErrorIs(t, err, levcan.ErrObject)
	entry, err = od.FindRecord(0x30, 2, Read, 6)
	require.Nil(t, err)
	assert.Equal(t, anyone, entry)
	assert.Equal(t, "per node[127]", entry.Name)
}

func TestSystemBeforeApplication(t *testing.T) {
	od := NewOD()
	od.AddVariable(levcan.SysSerialNumber, "app serial", 4, rw)
	od.AddSystem(&Entry{Name: "serial", MsgID: levcan.SysSerialNumber, Attributes: rw, Size: 4, NodeID: levcan.BroadcastAddress, Value: NewVariable(4)})
	entry, err := od.FindRecord(levcan.SysSerialNumber, 4, Read, 1)
	require.Nil(t, err)
	assert.Equal(t, "serial", entry.Name)
	assert.Len(t, od.Entries(), 2)
	assert.Equal(t, "serial", od.Entries()[0].Name)
}

func TestDeliver(t *testing.T) {
	t.Run("variable is truncated", func(t *testing.T) {
		v := NewVariable(2)
		entry := &Entry{Value: v}
		assert.Nil(t, entry.Deliver(Message{Payload: []byte{1, 2, 3}}))
		assert.Equal(t, []byte{1, 2}, v.Bytes())
		assert.EqualValues(t, 0x0201, v.Uint16())
		// Shorter writes keep the tail
		assert.Nil(t, entry.Deliver(Message{Payload: []byte{9}}))
		assert.Equal(t, []byte{9, 2}, v.Bytes())
	})
	t.Run("slot is swapped", func(t *testing.T) {
		slot := NewSlot([]byte("old"))
		entry := &Entry{Value: slot, Attributes: Attributes{Cleanup: true}}
		payload := []byte("new\x00")
		assert.Nil(t, entry.Deliver(Message{Payload: payload}))
		assert.Equal(t, "new", slot.String())
		entry.Release()
		assert.Nil(t, slot.Load())
	})
	t.Run("func", func(t *testing.T) {
		var got Message
		entry := &Entry{Value: Func(func(m Message) { got = m })}
		h := levcan.Header{Source: 3, MsgID: 7}
		assert.Nil(t, entry.Deliver(Message{Header: h, Payload: []byte{1}}))
		assert.Equal(t, h, got.Header)
	})
	t.Run("queue full", func(t *testing.T) {
		q := make(Queue, 1)
		entry := &Entry{Value: q}
		assert.Nil(t, entry.Deliver(Message{}))
		assert.ErrorIs(t, entry.Deliver(Message{}), levcan.ErrBufferFull)
		assert.Len(t, q, 1)
		_, err := entry.Payload()
		assert.ErrorIs(t, err, levcan.ErrAccess)
	})
	t.Run("no storage", func(t *testing.T) {
		entry := &Entry{}
		assert.ErrorIs(t, entry.Deliver(Message{}), levcan.ErrObject)
	})
}

func TestNullTerminated(t *testing.T) {
	assert.Equal(t, []byte("ab\x00"), nullTerminated("ab", 8))
	assert.Equal(t, []byte("abcd"), nullTerminated("abcdef", 4))
}
