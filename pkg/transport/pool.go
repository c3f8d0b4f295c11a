package transport

import (
	"fmt"
	"sync"

	levcan "github.com/samsamfire/golevcan"
)

const heapInitialBuffer = 16

// Pool of transfer control blocks.
// A heap pool allocates on demand, a static pool owns a fixed number of
// slots with a fixed receive buffer each, allocated once.
type Pool struct {
	mu     sync.Mutex
	static bool
	slots  []*TCB
	cursor int // probably free slot
	limit  int
	used   int
}

// NewHeapPool returns a pool allocating transfers on demand.
// limit caps the number of transfers in use, 0 is unlimited
func NewHeapPool(limit int) *Pool {
	return &Pool{limit: limit}
}

// NewStaticPool returns a pool of count slots, each able to receive
// messages of at most bufferSize bytes
func NewStaticPool(count int, bufferSize int) *Pool {
	p := &Pool{static: true, slots: make([]*TCB, count), limit: count}
	for i := range p.slots {
		buffer := make([]byte, 0, bufferSize)
		p.slots[i] = &TCB{static: true, index: i, buffer: buffer, data: buffer}
	}
	return p
}

// Acquire a free transfer control block
func (p *Pool) Acquire() (*TCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.static {
		if p.limit > 0 && p.used >= p.limit {
			return nil, fmt.Errorf("%d transfers in use : %w", p.used, levcan.ErrOutOfMemory)
		}
		p.used++
		return &TCB{inUse: true}, nil
	}
	for i := p.cursor; i < len(p.slots); i++ {
		tcb := p.slots[i]
		if !tcb.inUse {
			tcb.inUse = true
			p.cursor = i + 1
			p.used++
			return tcb, nil
		}
	}
	return nil, fmt.Errorf("all %d slots in use : %w", len(p.slots), levcan.ErrBufferFull)
}

// Release returns a transfer control block to the pool
func (p *Pool) Release(tcb *TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !tcb.inUse {
		return
	}
	tcb.reset()
	p.used--
	if p.static && tcb.index < p.cursor {
		p.cursor = tcb.index
	}
}

// InUse returns the number of acquired transfer control blocks
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}
