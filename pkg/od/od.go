package od

import (
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
	log "github.com/sirupsen/logrus"
)

// ObjectDictionary holds the entries a node exposes on the bus.
// System entries are always searched before application entries.
type ObjectDictionary struct {
	mu     sync.RWMutex
	logger *log.Entry
	system []*Entry
	app    []*Entry
}

func NewOD() *ObjectDictionary {
	return &ObjectDictionary{logger: log.WithField("service", "[OD]")}
}

// AddSystem adds a built-in entry
func (od *ObjectDictionary) AddSystem(entry *Entry) *Entry {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.system = append(od.system, entry)
	od.logger.Debugf("adding system entry %v", entry)
	return entry
}

// Add an application entry. Several entries may share a message id,
// the first one matching a lookup wins
func (od *ObjectDictionary) Add(entry *Entry) *Entry {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.app = append(od.app, entry)
	od.logger.Debugf("adding entry %v", entry)
	return entry
}

// AddVariable adds a fixed size entry accessible by any node
func (od *ObjectDictionary) AddVariable(msgId uint16, name string, size int, attributes Attributes) *Variable {
	v := NewVariable(size)
	od.Add(&Entry{Name: name, MsgID: msgId, Attributes: attributes, Size: size, NodeID: levcan.BroadcastAddress, Value: v})
	return v
}

// AddString adds a variable length entry of at most maxSize bytes
func (od *ObjectDictionary) AddString(msgId uint16, name string, maxSize int, attributes Attributes, value string) *Slot {
	slot := NewSlot(nullTerminated(value, maxSize))
	od.Add(&Entry{Name: name, MsgID: msgId, Attributes: attributes, Size: -maxSize, NodeID: levcan.BroadcastAddress, Value: slot})
	return slot
}

// AddFunc adds an entry calling fn on every write. size < 0 accepts any
// payload up to -size bytes
func (od *ObjectDictionary) AddFunc(msgId uint16, name string, size int, attributes Attributes, fn Func) *Entry {
	return od.Add(&Entry{Name: name, MsgID: msgId, Attributes: attributes, Size: size, NodeID: levcan.BroadcastAddress, Value: fn})
}

// AddQueue adds an entry forwarding every write to a queue of given depth
func (od *ObjectDictionary) AddQueue(msgId uint16, name string, size int, attributes Attributes, depth int) Queue {
	q := make(Queue, depth)
	od.Add(&Entry{Name: name, MsgID: msgId, Attributes: attributes, Size: size, NodeID: levcan.BroadcastAddress, Value: q})
	return q
}

// AddRecords adds a record array : per node variants of one message id
func (od *ObjectDictionary) AddRecords(msgId uint16, name string, records ...*Entry) *Entry {
	for _, r := range records {
		r.MsgID = msgId
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s[%d]", name, r.NodeID)
		}
	}
	return od.Add(&Entry{Name: name, MsgID: msgId, NodeID: levcan.BroadcastAddress, Records: records})
}

// Entries returns system then application entries, in search order
func (od *ObjectDictionary) Entries() []*Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	entries := make([]*Entry, 0, len(od.system)+len(od.app))
	entries = append(entries, od.system...)
	return append(entries, od.app...)
}

// FindRecord returns the first entry with msgId that can serve an access
// of size bytes in direction dir by node nodeId.
//   - size matches exactly, or the entry is variable length and size fits
//     in its bound, or the access is a sizeless read (size 0)
//   - the entry is readable for reads and writable for writes
//   - the entry is open to every node or to nodeId
//
// This is the only access control of the protocol
func (od *ObjectDictionary) FindRecord(msgId uint16, size int, dir Direction, nodeId uint8) (*Entry, error) {
	od.mu.RLock()
	defer od.mu.RUnlock()
	for _, list := range [][]*Entry{od.system, od.app} {
		for _, entry := range list {
			if entry.MsgID != msgId {
				continue
			}
			if entry.Records != nil {
				for _, record := range entry.Records {
					if record.matches(size, dir, nodeId) {
						return record, nil
					}
				}
				continue
			}
			if entry.matches(size, dir, nodeId) {
				return entry, nil
			}
		}
	}
	return nil, fmt.Errorf("x%x %v of %d bytes by node %d : %w", msgId, dir, size, nodeId, levcan.ErrObject)
}

// nullTerminated returns value with a terminating zero, the terminator is
// dropped when the string fills maxSize
func nullTerminated(value string, maxSize int) []byte {
	b := []byte(value)
	if maxSize > 0 && len(b) >= maxSize {
		return b[:maxSize]
	}
	return append(b, 0)
}
