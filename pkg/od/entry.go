package od

import (
	"fmt"

	levcan "github.com/samsamfire/golevcan"
)

// Direction of an access, seen from the dictionary owner
type Direction uint8

const (
	// Read : the entry is read out of the dictionary, e.g. to answer a request
	Read Direction = iota
	// Write : a peer writes into the dictionary
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Attributes of an [Entry]
type Attributes struct {
	Readable bool
	Writable bool
	// Reliable transfers are acknowledged chunk by chunk (TCP-like),
	// otherwise chunks are bursted without acknowledgement (UDP-like)
	Reliable bool
	Priority uint8
	// Cleanup hands the memory to the transport, a [Slot] is emptied
	// once its content has been sent
	Cleanup bool
}

// Message is a completed transfer
type Message struct {
	Header  levcan.Header
	Payload []byte
}

// Value is where an entry's data lives. It is one of
// [*Variable], [*Slot], [Func] or [Queue]
type Value interface {
	isValue()
}

// Func is called with every message written to the entry.
// For requests the payload is nil
type Func func(m Message)

// Queue receives every message written to the entry.
// Delivery never blocks, messages are dropped when the queue is full
type Queue chan Message

func (Func) isValue()  {}
func (Queue) isValue() {}

// An Entry object is the main building block of an [ObjectDictionary].
// It exposes an application value under a message id.
//
// Size is the exact size in bytes, or when negative, the maximum size of a
// variable length value (typically a string).
// NodeID is the target node when the entry is sent and the only node allowed
// to access it otherwise, [levcan.BroadcastAddress] meaning anyone.
// An entry with Records is a record array : per node variants of the same
// message id, the first variant matching the requesting node is used.
type Entry struct {
	Name  string
	MsgID uint16
	Attributes
	Size    int
	NodeID  uint8
	Value   Value
	Records []*Entry
}

func (entry *Entry) String() string {
	return fmt.Sprintf("%s (x%x, size %d, node %d)", entry.Name, entry.MsgID, entry.Size, entry.NodeID)
}

// A variable length entry accepts any size up to its bound, empty
// payloads included (commands such as Shutdown carry no data)
func (entry *Entry) matches(size int, dir Direction, nodeId uint8) bool {
	sizeOk := entry.Size == size ||
		(entry.Size < 0 && size >= 0 && size <= -entry.Size) ||
		(dir == Read && size == 0)
	if !sizeOk {
		return false
	}
	if dir == Read && !entry.Readable || dir == Write && !entry.Writable {
		return false
	}
	return entry.NodeID == levcan.BroadcastAddress || entry.NodeID == nodeId
}

// Payload returns the bytes to send for this entry.
// A [Func] entry has no payload and a [Queue] is write only
func (entry *Entry) Payload() ([]byte, error) {
	switch v := entry.Value.(type) {
	case *Variable:
		return v.Bytes(), nil
	case *Slot:
		return v.Load(), nil
	case Func, nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%v is not readable : %w", entry, levcan.ErrAccess)
	}
}

// Release is called by the transport once an entry with the Cleanup
// attribute has been sent
func (entry *Entry) Release() {
	if slot, ok := entry.Value.(*Slot); ok {
		slot.Store(nil)
	}
}

// Deliver stores a completed transfer into the entry
func (entry *Entry) Deliver(m Message) error {
	switch v := entry.Value.(type) {
	case *Variable:
		v.Write(m.Payload)
	case *Slot:
		v.Store(m.Payload)
	case Func:
		v(m)
	case Queue:
		select {
		case v <- m:
		default:
			return fmt.Errorf("queue of %v : %w", entry, levcan.ErrBufferFull)
		}
	default:
		return fmt.Errorf("%v has no storage : %w", entry, levcan.ErrObject)
	}
	return nil
}
