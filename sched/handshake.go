package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
)

// maxIdleHandshakes bounds the free list of completion records.
const maxIdleHandshakes = 64

// Call describes a synchronous request carried over the asynchronous queues.
type Call struct {
	Flow   Flow
	Dest   Destination
	Kind   uint16
	Cookie uint16
	Value  uint64

	// Timeout bounds the wait. Zero uses Config.HandshakeTimeout.
	Timeout time.Duration

	// BestEffort reports a timeout to the caller only. Otherwise a timeout
	// is also escalated to Config.OnFault.
	BestEffort bool
}

// handshake is the completion record shared by the waiting caller and the
// far-side handler. It is heap allocated and reference counted: the record
// returns to the free list only after both sides have let go, and gen
// changes on every reuse so a stale [Completion] can never touch a newer call.
type handshake struct {
	mutex     sync.Mutex
	gen       uint64
	id        uuid.UUID
	done      chan struct{}
	err       error
	completed bool
	abandoned bool
	refs      int

	owner *handshakePool
	stats *handshakeCounters
}

// Completion is the payload of a handshake message. The far-side handler
// calls [Completion.Complete] exactly once; later calls are ignored.
type Completion struct {
	h   *handshake
	gen uint64
}

// ID returns the handshake correlation id, or the zero UUID if c is stale.
func (c Completion) ID() uuid.UUID {
	if c.h == nil {
		return uuid.UUID{}
	}
	c.h.mutex.Lock()
	defer c.h.mutex.Unlock()
	if c.h.gen != c.gen {
		return uuid.UUID{}
	}
	return c.h.id
}

// Complete delivers the result to the waiting caller. It reports whether this
// call completed the handshake.
func (c Completion) Complete(err error) bool {
	h := c.h
	if h == nil {
		return false
	}

	h.mutex.Lock()
	if h.gen != c.gen || h.completed {
		h.mutex.Unlock()
		return false
	}
	h.completed = true
	h.err = err
	close(h.done)
	late := h.abandoned
	id := h.id
	h.mutex.Unlock()

	if late {
		h.stats.late.Add(1)
		pkg.LogWarn(pkg.ComponentHandshake, "handshake completed after caller gave up",
			"id", id, "status", pkg.StatusOf(err))
	}
	h.release()
	return true
}

// Release completes the handshake with [pkg.ErrCancelled] if it is still
// pending, e.g. when the message is discarded at shutdown.
func (c Completion) Release() {
	c.Complete(pkg.ErrCancelled)
}

func (h *handshake) release() {
	h.mutex.Lock()
	h.refs--
	idle := h.refs == 0
	h.mutex.Unlock()
	if idle {
		h.owner.put(h)
	}
}

// handshakePool is a bounded LIFO of idle completion records.
type handshakePool struct {
	mutex sync.Mutex
	idle  []*handshake
}

func (p *handshakePool) get(stats *handshakeCounters) *handshake {
	p.mutex.Lock()
	var h *handshake
	if n := len(p.idle); n > 0 {
		h = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mutex.Unlock()

	if h == nil {
		h = &handshake{owner: p, stats: stats}
	} else {
		stats.recycled.Add(1)
	}

	h.mutex.Lock()
	h.gen++
	h.id = uuid.New()
	h.done = make(chan struct{})
	h.err = nil
	h.completed = false
	h.abandoned = false
	h.refs = 2 // caller + far side
	h.mutex.Unlock()
	return h
}

func (p *handshakePool) put(h *handshake) {
	p.mutex.Lock()
	if len(p.idle) < maxIdleHandshakes {
		p.idle = append(p.idle, h)
	}
	p.mutex.Unlock()
}

type handshakeCounters struct {
	started   atomic.Uint64
	completed atomic.Uint64
	timedOut  atomic.Uint64
	cancelled atomic.Uint64
	late      atomic.Uint64
	recycled  atomic.Uint64
}

// CallAndWait posts a handshake message and blocks until the far side
// completes it, the timeout elapses or ctx ends. The far side receives a
// [Completion] as msg.Payload.
//
// A timeout returns an error matching [pkg.ErrTimeout]. Unless
// Call.BestEffort is set the timeout is treated as fatal and also passed to
// Config.OnFault. CallAndWait must not be called from a handler of the flow
// it targets.
func (s *Scheduler) CallAndWait(ctx context.Context, call Call) error {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = s.cfg.HandshakeTimeout
	}

	h := s.handshakes.get(&s.hsStats)
	c := Completion{h: h, gen: h.gen}
	id, done := h.id, h.done

	msg := mq.Message{Kind: call.Kind, Cookie: call.Cookie, Payload: c, Value: call.Value}
	if err := s.PostFlow(call.Flow, call.Dest, msg); err != nil {
		// Nobody else will see the record.
		h.release()
		h.release()
		return err
	}
	s.hsStats.started.Add(1)

	pkg.LogDebug(pkg.ComponentHandshake, "handshake posted",
		"id", id, "flow", call.Flow, "dest", call.Dest, "kind", call.Kind, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-done:
	case <-timer.C:
		cause = pkg.ErrTimeout
	case <-ctx.Done():
		cause = pkg.ErrCancelled
	}

	h.mutex.Lock()
	if cause != nil && h.completed {
		// Completed while we were giving up.
		cause = nil
	}
	if cause != nil {
		h.abandoned = true
	}
	result := h.err
	h.mutex.Unlock()
	h.release()

	switch cause {
	case nil:
		s.hsStats.completed.Add(1)
		pkg.LogDebug(pkg.ComponentHandshake, "handshake completed",
			"id", id, "status", pkg.StatusOf(result))
		return result
	case pkg.ErrTimeout:
		s.hsStats.timedOut.Add(1)
		err := fmt.Errorf("%w: %s/%s kind=0x%04x after %s",
			pkg.ErrTimeout, call.Flow, call.Dest, call.Kind, timeout)
		pkg.LogError(pkg.ComponentHandshake, "handshake timed out",
			"id", id, "bestEffort", call.BestEffort, "error", err)
		if !call.BestEffort {
			s.fault(err)
		}
		return err
	default:
		s.hsStats.cancelled.Add(1)
		return fmt.Errorf("%w: %s/%s kind=0x%04x: %w",
			pkg.ErrCancelled, call.Flow, call.Dest, call.Kind, ctx.Err())
	}
}
