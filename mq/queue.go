package mq

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softwlan/pkg"
)

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Name     string
	Depth    int
	Enqueued uint64
	Drained  uint64
	Rejected uint64 // Enqueue failures due to pool exhaustion
}

// Queue is a FIFO of envelopes with any number of producers and a single
// consumer. The lock is only held to splice the list.
type Queue struct {
	name string
	pool *Pool

	mutex sync.Mutex
	head  *Envelope
	tail  *Envelope
	depth int

	enqueued atomic.Uint64
	drained  atomic.Uint64
	rejected atomic.Uint64

	notify func()
}

// NewQueue creates an empty queue drawing envelopes from pool. notify, if
// non-nil, is called after every successful enqueue to wake the consumer.
func NewQueue(name string, pool *Pool, notify func()) *Queue {
	return &Queue{name: name, pool: pool, notify: notify}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.depth
}

// Enqueue copies msg into a fresh envelope and appends it. If the pool is
// exhausted it returns [pkg.ErrResourceExhausted] and the caller keeps
// ownership of msg.Payload.
func (q *Queue) Enqueue(msg Message) error {
	e, ok := q.pool.Acquire()
	if !ok {
		q.rejected.Add(1)
		return fmt.Errorf("%w: queue %s", pkg.ErrResourceExhausted, q.name)
	}
	e.msg = msg

	q.mutex.Lock()
	if q.tail == nil {
		q.head = e
	} else {
		q.tail.next = e
	}
	q.tail = e
	q.depth++
	q.mutex.Unlock()

	q.enqueued.Add(1)
	if q.notify != nil {
		q.notify()
	}
	return nil
}

// DrainAll detaches everything currently queued. Messages enqueued after
// DrainAll returns belong to the next batch.
func (q *Queue) DrainAll() Batch {
	q.mutex.Lock()
	head, n := q.head, q.depth
	q.head, q.tail, q.depth = nil, nil, 0
	q.mutex.Unlock()

	q.drained.Add(uint64(n))
	return Batch{pool: q.pool, cur: head, remaining: n}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Name:     q.name,
		Depth:    q.Len(),
		Enqueued: q.enqueued.Load(),
		Drained:  q.drained.Load(),
		Rejected: q.rejected.Load(),
	}
}

// Batch is a detached run of messages. It is consumed once, front to back;
// each envelope returns to the pool as its message is taken.
type Batch struct {
	pool      *Pool
	cur       *Envelope
	remaining int
}

// Len returns the number of messages not yet taken.
func (b *Batch) Len() int {
	return b.remaining
}

// Next takes the next message. The returned message owns its payload.
func (b *Batch) Next() (Message, bool) {
	e := b.cur
	if e == nil {
		return Message{}, false
	}
	b.cur = e.next
	b.remaining--
	msg := e.msg
	b.pool.Release(e)
	return msg, true
}

// All returns the remaining messages as a sequence. Breaking out of the loop
// leaves the rest in the batch.
func (b *Batch) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			msg, ok := b.Next()
			if !ok || !yield(msg) {
				return
			}
		}
	}
}

// Discard releases every remaining message and its payload. It returns the
// number of messages dropped.
func (b *Batch) Discard() int {
	n := 0
	for {
		msg, ok := b.Next()
		if !ok {
			return n
		}
		Release(&msg)
		n++
	}
}
