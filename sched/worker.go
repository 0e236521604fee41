package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
)

// WorkerState is the state of a flow worker.
type WorkerState int32

// Worker states.
const (
	WorkerIdle      WorkerState = iota // Waiting for a wake signal
	WorkerDraining                     // Processing a drained batch
	WorkerSuspended                    // Parked between batches until resumed
	WorkerShutDown                     // Exited
)

// String returns the state name.
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerDraining:
		return "draining"
	case WorkerSuspended:
		return "suspended"
	case WorkerShutDown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// route is one destination queue of a flow together with its handler.
type route struct {
	dest    Destination
	queue   *mq.Queue
	handler Handler

	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

// worker drains the queues of one flow.
type worker struct {
	s      *Scheduler
	flow   Flow
	routes []*route // service order
	byDest [numDestinations]*route

	wake   chan struct{} // one slot, coalesces signals
	quit   chan struct{}
	exited chan struct{}

	quitOnce sync.Once
	state    atomic.Int32
	batches  atomic.Uint64
	messages atomic.Uint64

	// Suspension handshake, guarded by suspendMu. ack is closed by the worker
	// once parked; resume is closed by Resume.
	suspendMu sync.Mutex
	ack       chan struct{}
	resume    chan struct{}
}

func newWorker(s *Scheduler, flow Flow) *worker {
	w := &worker{
		s:      s,
		flow:   flow,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, d := range layout[flow] {
		rq := &route{dest: d}
		rq.queue = mq.NewQueue(fmt.Sprintf("%s/%s", flow, d), s.pool, w.signal)
		w.routes = append(w.routes, rq)
		w.byDest[d] = rq
	}
	return w
}

// signal marks work pending. It never blocks.
func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *worker) stopping() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// State returns the current worker state.
func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *worker) run() {
	defer close(w.exited)
	pkg.LogDebug(pkg.ComponentWorker, "worker started", "flow", w.flow)

	for {
		w.setState(WorkerIdle)
		select {
		case <-w.wake:
		case <-w.quit:
		}

		if w.stopping() {
			w.shutDown()
			return
		}

		if ack, resume := w.pendingSuspend(); ack != nil {
			w.setState(WorkerSuspended)
			close(ack)
			pkg.LogDebug(pkg.ComponentWorker, "worker suspended", "flow", w.flow)
			select {
			case <-resume:
				pkg.LogDebug(pkg.ComponentWorker, "worker resumed", "flow", w.flow)
			case <-w.quit:
				w.shutDown()
				return
			}
		}

		w.setState(WorkerDraining)
		w.drain(w.s.ctx)
		w.batches.Add(1)
	}
}

// drain services every queue once, in layout order.
func (w *worker) drain(ctx context.Context) {
	for _, rq := range w.routes {
		b := rq.queue.DrainAll()
		for msg := range b.All() {
			w.dispatch(ctx, rq, msg)
		}
	}
}

func (w *worker) dispatch(ctx context.Context, rq *route, msg mq.Message) {
	w.messages.Add(1)
	if rq.handler == nil {
		mq.Release(&msg)
		rq.dropped.Add(1)
		pkg.LogWarn(pkg.ComponentWorker, "message dropped",
			"flow", w.flow, "dest", rq.dest, "kind", msg.Kind,
			"error", pkg.ErrNoHandler)
		return
	}

	if panicked, err := invoke(ctx, rq.handler, msg); err != nil {
		if panicked {
			// The handler never took ownership; answer a pending handshake
			// and return pooled buffers.
			mq.Release(&msg)
		}
		rq.failed.Add(1)
		pkg.LogWarn(pkg.ComponentWorker, "handler failed",
			"flow", w.flow, "dest", rq.dest, "kind", msg.Kind,
			"error", fmt.Errorf("%w: %w", pkg.ErrHandlerFailed, err))
		return
	}
	rq.dispatched.Add(1)
}

// invoke runs a handler, converting a panic into an error so one bad message
// cannot take down the flow.
func invoke(ctx context.Context, h Handler, msg mq.Message) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	return false, h.HandleMessage(ctx, msg)
}

// shutDown discards everything still queued and enters the terminal state.
func (w *worker) shutDown() {
	if n := w.discardAll(); n > 0 {
		pkg.LogInfo(pkg.ComponentWorker, "discarded queued messages on shutdown",
			"flow", w.flow, "count", n)
	}
	w.setState(WorkerShutDown)
	pkg.LogDebug(pkg.ComponentWorker, "worker exited", "flow", w.flow)
}

func (w *worker) discardAll() int {
	n := 0
	for _, rq := range w.routes {
		b := rq.queue.DrainAll()
		d := b.Discard()
		rq.dropped.Add(uint64(d))
		n += d
	}
	return n
}

// pendingSuspend returns the channels of an outstanding suspend request, or
// nil if none is pending or the worker is already parked.
func (w *worker) pendingSuspend() (ack, resume chan struct{}) {
	w.suspendMu.Lock()
	defer w.suspendMu.Unlock()
	if w.ack == nil {
		return nil, nil
	}
	select {
	case <-w.ack:
		return nil, nil
	default:
		return w.ack, w.resume
	}
}

// Suspend parks the worker of flow between batches and waits until it has
// done so. Posts are still accepted; they are delivered after [Scheduler.Resume].
// Suspending an already suspended flow waits for the pending request.
func (s *Scheduler) Suspend(ctx context.Context, flow Flow) error {
	if flow >= numFlows || s.workers[flow] == nil {
		return fmt.Errorf("%w: flow %s not enabled", pkg.ErrInvalidParameter, flow)
	}
	w := s.workers[flow]

	w.suspendMu.Lock()
	if w.ack == nil {
		w.ack = make(chan struct{})
		w.resume = make(chan struct{})
	}
	ack, resume := w.ack, w.resume
	w.suspendMu.Unlock()
	w.signal()

	select {
	case <-ack:
		pkg.LogInfo(pkg.ComponentSched, "flow suspended", "flow", flow)
		return nil
	case <-resume:
		// Resumed before or while parking.
		select {
		case <-ack:
			return nil
		default:
		}
		return fmt.Errorf("%w: suspend %s: resumed before parked", pkg.ErrCancelled, flow)
	case <-w.exited:
		return fmt.Errorf("%w: %s worker exited", pkg.ErrNotRunning, flow)
	case <-ctx.Done():
		// Withdraw the request; a worker that already picked it up resumes
		// immediately.
		w.suspendMu.Lock()
		if w.ack == ack {
			close(w.resume)
			w.ack, w.resume = nil, nil
		}
		w.suspendMu.Unlock()
		return fmt.Errorf("%w: suspend %s: %w", pkg.ErrCancelled, flow, ctx.Err())
	}
}

// Resume releases a suspended flow. A [Scheduler.Suspend] still waiting for
// the worker to park is withdrawn and returns [pkg.ErrCancelled]. Resuming a
// flow that is not suspended is a no-op.
func (s *Scheduler) Resume(flow Flow) error {
	if flow >= numFlows || s.workers[flow] == nil {
		return fmt.Errorf("%w: flow %s not enabled", pkg.ErrInvalidParameter, flow)
	}
	w := s.workers[flow]

	w.suspendMu.Lock()
	resume := w.resume
	w.ack, w.resume = nil, nil
	w.suspendMu.Unlock()

	if resume != nil {
		close(resume)
		// Deliver anything posted while parked.
		w.signal()
		pkg.LogInfo(pkg.ComponentSched, "flow resumed", "flow", flow)
	}
	return nil
}

// FlowState returns the worker state of flow.
func (s *Scheduler) FlowState(flow Flow) (WorkerState, error) {
	if flow >= numFlows || s.workers[flow] == nil {
		return WorkerShutDown, fmt.Errorf("%w: flow %s not enabled", pkg.ErrInvalidParameter, flow)
	}
	return s.workers[flow].State(), nil
}
