package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
)

// Defaults applied by [Open] to zero-valued [Config] fields.
const (
	DefaultCapacity         = 512
	DefaultHandshakeTimeout = 10 * time.Second
)

// Handler processes messages dequeued from one destination queue. It runs on
// the flow's worker goroutine and owns msg.Payload: it must release it or hand
// it on before returning. ctx is cancelled when the scheduler closes.
type Handler interface {
	HandleMessage(ctx context.Context, msg mq.Message) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, msg mq.Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg mq.Message) error {
	return f(ctx, msg)
}

// Config holds scheduler parameters.
type Config struct {
	// Capacity is the number of message envelopes shared by all queues.
	Capacity int

	// StarvationLimit is the number of consecutive failed envelope
	// acquisitions treated as a stuck consumer. Zero means 3 * Capacity.
	StarvationLimit uint64

	// EnableRX creates the receive flow and its worker.
	EnableRX bool

	// HandshakeTimeout applies to calls that do not set their own timeout.
	HandshakeTimeout time.Duration

	// OnFault receives fatal conditions: envelope starvation and strict
	// handshake timeouts. The default logs the error and panics.
	OnFault func(err error)
}

// Option configures optional scheduler behavior.
type Option func(*options)

type binding struct {
	flow    Flow
	dest    Destination
	handler Handler
}

type options struct {
	bindings []binding
}

// WithHandler binds h to the queue of dest on flow.
func WithHandler(flow Flow, dest Destination, h Handler) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, binding{flow: flow, dest: dest, handler: h})
	}
}

// WithHandlerFunc binds fn to the queue of dest on flow.
func WithHandlerFunc(flow Flow, dest Destination, fn func(ctx context.Context, msg mq.Message) error) Option {
	return WithHandler(flow, dest, HandlerFunc(fn))
}

type lifecycle int

const (
	stateOpen lifecycle = iota
	stateClosing
	stateClosed
)

// Scheduler owns the envelope pool, the destination queues of every flow and
// one worker goroutine per flow. Create it with [Open] and shut it down with
// [Scheduler.Close]; pass the handle to every subsystem that posts messages.
type Scheduler struct {
	cfg     Config
	pool    *mq.Pool
	workers [numFlows]*worker

	// State. Post holds the read lock across its state check and enqueue so
	// nothing is enqueued once Close has flipped the state.
	state lifecycle
	mutex sync.RWMutex

	// Context handed to handlers, cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	handshakes handshakePool
	hsStats    handshakeCounters

	// Throttles repeated exhaustion warnings per queue.
	limiter *catrate.Limiter
}

// Open creates the envelope pool and queues and starts the worker of every
// enabled flow.
func Open(cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	pool, err := mq.NewPool(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	pool.SetStarvationLimit(cfg.StarvationLimit)

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Scheduler{
		cfg:  cfg,
		pool: pool,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, f := range Flows() {
		if f == FlowRX && !cfg.EnableRX {
			continue
		}
		s.workers[f] = newWorker(s, f)
	}

	for _, b := range o.bindings {
		rq, err := s.route(b.flow, b.dest)
		if err != nil {
			s.cancel()
			return nil, fmt.Errorf("bind handler: %w", err)
		}
		rq.handler = b.handler
	}

	pool.OnStarvation(func(run uint64) {
		s.fault(fmt.Errorf("%w: %d consecutive failures with capacity %d",
			pkg.ErrFatalStarvation, run, pool.Cap()))
	})

	for _, w := range s.workers {
		if w != nil {
			go w.run()
		}
	}

	pkg.LogInfo(pkg.ComponentSched, "scheduler opened",
		"capacity", cfg.Capacity,
		"starvationLimit", pool.StarvationLimit(),
		"rx", cfg.EnableRX)
	return s, nil
}

// Close stops every worker and waits for them to exit. Messages still queued
// are discarded and their payloads released. Close must not be called from a
// handler. Calling Close again returns nil.
func (s *Scheduler) Close() error {
	s.mutex.Lock()
	if s.state != stateOpen {
		s.mutex.Unlock()
		return nil
	}
	s.state = stateClosing
	s.mutex.Unlock()

	s.cancel()
	for _, w := range s.workers {
		if w != nil {
			w.stop()
		}
	}

	var err error
	dropped := 0
	for _, w := range s.workers {
		if w == nil {
			continue
		}
		<-w.exited
		// Posts that raced the state change are swept here.
		dropped += w.discardAll()
	}

	s.mutex.Lock()
	s.state = stateClosed
	s.mutex.Unlock()

	if st := s.pool.Stats(); st.InUse != 0 {
		err = multierr.Append(err, fmt.Errorf("%d envelopes still in use after close", st.InUse))
	}
	for _, w := range s.workers {
		if w != nil && w.State() != WorkerShutDown {
			err = multierr.Append(err, fmt.Errorf("%s worker did not shut down", w.flow))
		}
	}

	pkg.LogInfo(pkg.ComponentSched, "scheduler closed", "swept", dropped)
	return err
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// HasFlow reports whether flow has a worker.
func (s *Scheduler) HasFlow(flow Flow) bool {
	return flow < numFlows && s.workers[flow] != nil
}

// Post posts msg to dest on the control flow.
func (s *Scheduler) Post(dest Destination, msg mq.Message) error {
	return s.PostFlow(FlowMC, dest, msg)
}

// PostFlow posts msg to dest on flow. On error the caller keeps ownership of
// msg.Payload. It never blocks on the consumer.
func (s *Scheduler) PostFlow(flow Flow, dest Destination, msg mq.Message) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.state != stateOpen {
		return fmt.Errorf("%w: scheduler closed", pkg.ErrNotRunning)
	}
	rq, err := s.route(flow, dest)
	if err != nil {
		pkg.LogWarn(pkg.ComponentSched, "post to invalid destination",
			"flow", flow, "dest", dest, "kind", msg.Kind)
		return err
	}
	if err := rq.queue.Enqueue(msg); err != nil {
		if _, ok := s.limiter.Allow(rq); ok {
			pkg.LogWarn(pkg.ComponentSched, "message envelopes exhausted",
				"queue", rq.queue.Name(),
				"kind", msg.Kind,
				"starvationRun", s.pool.Stats().StarvationRun)
		}
		return err
	}
	return nil
}

// AfterFunc posts msg to dest on flow once d has elapsed. If the post fails
// at expiry the payload is released and the failure logged. Stopping the
// returned timer before it fires leaves the payload with the caller.
func (s *Scheduler) AfterFunc(d time.Duration, flow Flow, dest Destination, msg mq.Message) *time.Timer {
	return time.AfterFunc(d, func() {
		if err := s.PostFlow(flow, dest, msg); err != nil {
			mq.Release(&msg)
			pkg.LogWarn(pkg.ComponentSched, "timer post failed",
				"flow", flow, "dest", dest, "kind", msg.Kind, "error", err)
		}
	})
}

// route resolves the queue for dest on flow.
func (s *Scheduler) route(flow Flow, dest Destination) (*route, error) {
	if flow >= numFlows || s.workers[flow] == nil {
		return nil, fmt.Errorf("%w: flow %s not enabled", pkg.ErrInvalidDestination, flow)
	}
	if dest >= numDestinations {
		return nil, fmt.Errorf("%w: %s", pkg.ErrInvalidDestination, dest)
	}
	rq := s.workers[flow].byDest[dest]
	if rq == nil {
		return nil, fmt.Errorf("%w: %s has no queue on flow %s", pkg.ErrInvalidDestination, dest, flow)
	}
	return rq, nil
}

// fault escalates a fatal condition.
func (s *Scheduler) fault(err error) {
	pkg.LogError(pkg.ComponentSched, "fatal scheduler fault", "error", err)
	if s.cfg.OnFault != nil {
		s.cfg.OnFault(err)
		return
	}
	panic(err)
}
