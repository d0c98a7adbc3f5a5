package compiler

import (
	"fmt"
	"sync"
)

// Pool recycles Elements. Elements handed out by Get are reset; their frame
// storage is reused. A pool may be shared by several compilers.
type Pool struct {
	mu          sync.Mutex
	free        *Element
	nfree       int
	outstanding int
	capacity    int
	created     uint64
}

// NewPool returns a pool that allows at most capacity elements to be out at
// once. Zero means no limit.
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

var defaultPool = NewPool(0)

// DefaultPool is the process-wide pool used when a Config names none.
func DefaultPool() *Pool { return defaultPool }

// Get returns a reset element.
func (p *Pool) Get() (*Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.capacity > 0 && p.outstanding >= p.capacity {
		return nil, fmt.Errorf("%w: %d elements in use", ErrPoolExhausted, p.outstanding)
	}
	e := p.free
	if e != nil {
		p.free = e.next
		p.nfree--
	} else {
		e = &Element{}
		p.created++
	}
	e.reset()
	p.outstanding++
	return e, nil
}

// Put returns e to the pool. Putting an element twice is a logic error.
func (p *Pool) Put(e *Element) {
	p.mu.Lock()
	defer p.mu.Unlock()

	invariant(!e.pooled, "element %s returned to the pool twice", e)
	if e.pooled {
		return
	}
	e.pooled = true
	e.next = p.free
	p.free = e
	p.nfree++
	p.outstanding--
}

// Outstanding returns the number of elements handed out and not returned.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Free returns the number of elements waiting for reuse.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nfree
}

// Created returns how many elements were ever allocated.
func (p *Pool) Created() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
