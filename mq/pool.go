package mq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softwlan/pkg"
)

// StarvationFactor scales the pool capacity into the default starvation
// limit: the number of consecutive failed acquisitions tolerated before the
// pool reports a stuck consumer.
const StarvationFactor = 3

// Envelope is a reusable slot holding one in-flight message.
type Envelope struct {
	id    int
	msg   Message
	next  *Envelope // free list or queue link, never both
	inUse bool
}

// ID returns the slot index of the envelope within its pool.
func (e *Envelope) ID() int {
	return e.id
}

// Message returns a copy of the message stored in the envelope.
func (e *Envelope) Message() Message {
	return e.msg
}

// PoolStats is a snapshot of envelope pool usage.
type PoolStats struct {
	Capacity      int
	Free          int
	InUse         int
	HighWater     int
	Misses        uint64 // Failed acquisitions, total
	StarvationRun uint64 // Consecutive failed acquisitions
}

// Pool is a fixed-capacity set of envelopes. All envelopes are allocated by
// [NewPool]; Acquire and Release never allocate.
type Pool struct {
	slots []Envelope

	mutex     sync.Mutex
	free      *Envelope
	nfree     int
	highWater int

	misses   atomic.Uint64
	run      atomic.Uint64
	limit    atomic.Uint64
	reported atomic.Bool

	onStarvation atomic.Pointer[func(run uint64)]
}

// NewPool allocates a pool of capacity envelopes.
func NewPool(capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: pool capacity %d", pkg.ErrInvalidParameter, capacity)
	}
	p := &Pool{
		slots: make([]Envelope, capacity),
		nfree: capacity,
	}
	// Build the free list so the lowest slot is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		p.slots[i].id = i
		p.slots[i].next = p.free
		p.free = &p.slots[i]
	}
	p.limit.Store(uint64(capacity) * StarvationFactor)
	return p, nil
}

// Cap returns the number of envelopes in the pool.
func (p *Pool) Cap() int {
	return len(p.slots)
}

// SetStarvationLimit sets the number of consecutive failed acquisitions after
// which the starvation callback fires. Zero restores the default.
func (p *Pool) SetStarvationLimit(n uint64) {
	if n == 0 {
		n = uint64(len(p.slots)) * StarvationFactor
	}
	p.limit.Store(n)
}

// StarvationLimit returns the current starvation limit.
func (p *Pool) StarvationLimit() uint64 {
	return p.limit.Load()
}

// OnStarvation sets the callback invoked, at most once per starvation
// episode, when consecutive failed acquisitions reach the starvation limit.
// The callback runs on the goroutine that failed to acquire.
func (p *Pool) OnStarvation(cb func(run uint64)) {
	if cb == nil {
		p.onStarvation.Store(nil)
		return
	}
	p.onStarvation.Store(&cb)
}

// Acquire takes a free envelope. It returns false if the pool is empty; it
// never blocks.
func (p *Pool) Acquire() (*Envelope, bool) {
	p.mutex.Lock()
	e := p.free
	if e != nil {
		p.free = e.next
		e.next = nil
		e.inUse = true
		p.nfree--
		if used := len(p.slots) - p.nfree; used > p.highWater {
			p.highWater = used
		}
	}
	p.mutex.Unlock()

	if e == nil {
		p.misses.Add(1)
		run := p.run.Add(1)
		if run >= p.limit.Load() && p.reported.CompareAndSwap(false, true) {
			if cb := p.onStarvation.Load(); cb != nil {
				(*cb)(run)
			}
		}
		return nil, false
	}

	if p.run.Load() != 0 && p.run.Swap(0) != 0 {
		p.reported.Store(false)
	}
	return e, true
}

// Release clears the envelope and returns it to the free list. Releasing an
// envelope that is already free is ignored.
func (p *Pool) Release(e *Envelope) {
	if e == nil {
		return
	}
	p.mutex.Lock()
	if !e.inUse {
		p.mutex.Unlock()
		pkg.LogWarn(pkg.ComponentPool, "envelope released twice", "slot", e.id)
		return
	}
	e.msg = Message{}
	e.inUse = false
	e.next = p.free
	p.free = e
	p.nfree++
	p.mutex.Unlock()
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() PoolStats {
	p.mutex.Lock()
	free, high := p.nfree, p.highWater
	p.mutex.Unlock()
	return PoolStats{
		Capacity:      len(p.slots),
		Free:          free,
		InUse:         len(p.slots) - free,
		HighWater:     high,
		Misses:        p.misses.Load(),
		StarvationRun: p.run.Load(),
	}
}
