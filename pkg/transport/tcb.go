package transport

import (
	"fmt"

	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/od"
)

// MinByteSize is the size of the smallest addressable unit in bytes
const MinByteSize = 1

const step = 8 / MinByteSize

// Parity of the chunk ending at position
func Parity(position int) bool {
	return ^((position/step)+1)&1 == 1
}

// chunkParity is the parity bit of a reliable data chunk ending at end.
// The first chunk always carries a set bit, the receiver reads reliability
// from it even when the whole payload is shorter than a frame
func chunkParity(end int) bool {
	return end <= step || Parity(end)
}

// TCB is the transfer control block of one in-flight message,
// either outbound or inbound
type TCB struct {
	header   levcan.Header // MsgID, Source, Target and Priority of the transfer
	entry    *od.Entry     // outbound only
	data     []byte        // outbound payload, or inbound receive buffer
	position int
	pending  int // length of the last chunk sent and not acknowledged yet
	reliable bool
	attempt  int
	idle     int // ms since last activity
	retry    int // ms since last chunk sent
	done     chan error

	// pool bookkeeping
	static bool
	buffer []byte // fixed receive buffer of a static slot
	index  int
	inUse  bool

	// list linkage
	prev, next *TCB
	list       *tcbList
}

func (tcb *TCB) String() string {
	return fmt.Sprintf("x%x %d->%d pos %d/%d", tcb.header.MsgID, tcb.header.Source, tcb.header.Target, tcb.position, len(tcb.data))
}

func (tcb *TCB) matches(msgId uint16, source uint8, target uint8) bool {
	return tcb.header.MsgID == msgId && tcb.header.Source == source && tcb.header.Target == target
}

// append a received chunk, growing the receive buffer when needed
func (tcb *TCB) append(chunk []byte) error {
	needed := tcb.position + len(chunk)
	if needed > cap(tcb.data) {
		if tcb.static {
			return fmt.Errorf("%d bytes do not fit a %d bytes buffer : %w", needed, cap(tcb.data), levcan.ErrBufferFull)
		}
		size := max(cap(tcb.data), heapInitialBuffer)
		for size < needed {
			size *= 2
		}
		grown := make([]byte, tcb.position, size)
		copy(grown, tcb.data[:tcb.position])
		tcb.data = grown
	}
	tcb.data = append(tcb.data[:tcb.position], chunk...)
	tcb.position = needed
	return nil
}

func (tcb *TCB) reset() {
	*tcb = TCB{static: tcb.static, buffer: tcb.buffer, index: tcb.index, data: tcb.buffer[:0]}
}

// tcbList is a doubly linked list of transfers
type tcbList struct {
	head, tail *TCB
	len        int
}

func (l *tcbList) pushBack(tcb *TCB) {
	tcb.prev = l.tail
	tcb.next = nil
	if l.tail != nil {
		l.tail.next = tcb
	} else {
		l.head = tcb
	}
	l.tail = tcb
	tcb.list = l
	l.len++
}

func (l *tcbList) remove(tcb *TCB) {
	if tcb.list != l {
		return
	}
	if tcb.prev != nil {
		tcb.prev.next = tcb.next
	} else {
		l.head = tcb.next
	}
	if tcb.next != nil {
		tcb.next.prev = tcb.prev
	} else {
		l.tail = tcb.prev
	}
	tcb.prev, tcb.next, tcb.list = nil, nil, nil
	l.len--
}

func (l *tcbList) find(msgId uint16, source uint8, target uint8) *TCB {
	for tcb := l.head; tcb != nil; tcb = tcb.next {
		if tcb.matches(msgId, source, target) {
			return tcb
		}
	}
	return nil
}

// each calls fn on every transfer, fn may remove the current one
func (l *tcbList) each(fn func(tcb *TCB)) {
	for tcb := l.head; tcb != nil; {
		next := tcb.next
		fn(tcb)
		tcb = next
	}
}
