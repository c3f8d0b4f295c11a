package address

import levcan "github.com/samsamfire/golevcan"

// Event of the node table
type Event uint8

const (
	EventNew Event = iota
	EventChanged
	EventDeleted
)

var eventDescription = map[Event]string{
	EventNew:     "new",
	EventChanged: "changed",
	EventDeleted: "deleted",
}

func (e Event) String() string {
	return eventDescription[e]
}

type tableEntry struct {
	name   ShortName
	lastRx int // ms since last frame
}

// table of the other nodes seen on the bus, fixed capacity.
// An entry with NodeID [levcan.BroadcastAddress] is empty
type table struct {
	entries []tableEntry
}

func newTable(size int) *table {
	t := &table{entries: make([]tableEntry, size)}
	for i := range t.entries {
		t.entries[i].name.NodeID = levcan.BroadcastAddress
	}
	return t
}

func (t *table) byID(nodeId uint8) *tableEntry {
	for i := range t.entries {
		if t.entries[i].name.NodeID == nodeId {
			return &t.entries[i]
		}
	}
	return nil
}

func (t *table) byName(name ShortName) *tableEntry {
	for i := range t.entries {
		e := &t.entries[i]
		if e.name.NodeID != levcan.BroadcastAddress && e.name.Same(name) {
			return e
		}
	}
	return nil
}

func (t *table) used(nodeId uint8) bool {
	return nodeId != levcan.BroadcastAddress && t.byID(nodeId) != nil
}

func (t *table) clear(e *tableEntry) {
	*e = tableEntry{name: ShortName{NodeID: levcan.BroadcastAddress}}
}
