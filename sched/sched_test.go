package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
)

// recorder collects messages delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	msgs []mq.Message
	ch   chan mq.Message
	err  func(mq.Message) error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan mq.Message, 4096)}
}

func (r *recorder) HandleMessage(_ context.Context, msg mq.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.ch <- msg
	if r.err != nil {
		return r.err(msg)
	}
	mq.Release(&msg)
	return nil
}

func (r *recorder) wait(t *testing.T, n int) []mq.Message {
	t.Helper()
	out := make([]mq.Message, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case msg := <-r.ch:
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(out), n)
		}
	}
	return out
}

type payload struct {
	released atomic.Int32
}

func (p *payload) Release() { p.released.Add(1) }

type faults struct {
	mu   sync.Mutex
	errs []error
}

func (f *faults) record(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *faults) list() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func openTest(t *testing.T, cfg Config, opts ...Option) (*Scheduler, *faults) {
	t.Helper()
	f := &faults{}
	if cfg.OnFault == nil {
		cfg.OnFault = f.record
	}
	s, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, f
}

func TestOpen_Defaults(t *testing.T) {
	s, _ := openTest(t, Config{})
	cfg := s.Config()
	assert.Equal(t, DefaultCapacity, cfg.Capacity)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.True(t, s.HasFlow(FlowMC))
	assert.True(t, s.HasFlow(FlowTX))
	assert.False(t, s.HasFlow(FlowRX))
	assert.Equal(t, uint64(DefaultCapacity*mq.StarvationFactor), s.pool.StarvationLimit())
}

func TestOpen_InvalidCapacity(t *testing.T) {
	_, err := Open(Config{Capacity: -1})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestOpen_HandlerForDisabledFlow(t *testing.T) {
	_, err := Open(Config{}, WithHandler(FlowRX, DestDataPath, newRecorder()))
	assert.ErrorIs(t, err, pkg.ErrInvalidDestination)

	_, err = Open(Config{}, WithHandler(FlowTX, DestManagement, newRecorder()))
	assert.ErrorIs(t, err, pkg.ErrInvalidDestination)
}

func TestPost_InvalidDestination(t *testing.T) {
	s, _ := openTest(t, Config{Capacity: 8})

	tests := []struct {
		name string
		flow Flow
		dest Destination
	}{
		{"rx disabled", FlowRX, DestDataPath},
		{"no pe on tx", FlowTX, DestMobility},
		{"no sme on tx", FlowTX, DestManagement},
		{"out of range dest", FlowMC, numDestinations},
		{"out of range flow", numFlows, DestSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &payload{}
			err := s.PostFlow(tt.flow, tt.dest, mq.Message{Kind: 1, Payload: p})
			require.ErrorIs(t, err, pkg.ErrInvalidDestination)
			assert.Equal(t, int32(0), p.released.Load(), "caller keeps the payload")
		})
	}

	st := s.Stats()
	assert.Equal(t, 0, st.Pool.InUse)
	for _, q := range st.Queues {
		assert.Zero(t, q.Enqueued, q.Name)
	}
}

func TestPost_DeliversInOrder(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 64}, WithHandler(FlowMC, DestManagement, rec))

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Post(DestManagement, mq.Message{Kind: 0x20, Value: uint64(i)}))
	}
	got := rec.wait(t, 50)
	for i, msg := range got {
		assert.Equal(t, uint64(i), msg.Value)
	}
}

func TestPost_ConcurrentProducersFIFO(t *testing.T) {
	const producers, perProducer = 6, 300
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 128, StarvationLimit: 1 << 30}, WithHandler(FlowTX, DestDataPath, rec))

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				msg := mq.Message{Kind: uint16(p), Value: uint64(i)}
				err := s.PostRetry(context.Background(), FlowTX, DestDataPath, msg, RetryPolicy{MaxElapsed: 5 * time.Second})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := rec.wait(t, producers*perProducer)
	last := make(map[uint16]int64)
	for _, msg := range got {
		prev, ok := last[msg.Kind]
		if ok {
			require.Greater(t, int64(msg.Value), prev, "producer %d reordered", msg.Kind)
		}
		last[msg.Kind] = int64(msg.Value)
	}
	assert.Len(t, last, producers)
}

func TestPost_ExhaustionBeforeDrain(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 4}, WithHandler(FlowMC, DestMobility, rec))
	require.NoError(t, s.Suspend(context.Background(), FlowMC))

	payloads := make([]*payload, 5)
	var errs []error
	for i := range payloads {
		payloads[i] = &payload{}
		errs = append(errs, s.Post(DestMobility, mq.Message{Kind: uint16(i), Payload: payloads[i]}))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
	}
	require.ErrorIs(t, errs[4], pkg.ErrResourceExhausted)
	assert.Equal(t, int32(0), payloads[4].released.Load(), "rejected payload stays with caller")

	require.NoError(t, s.Resume(FlowMC))
	got := rec.wait(t, 4)
	for i, msg := range got {
		assert.Equal(t, uint16(i), msg.Kind)
		assert.Equal(t, int32(1), payloads[i].released.Load())
	}

	require.Eventually(t, func() bool { return s.Stats().Pool.InUse == 0 }, time.Second, time.Millisecond)
}

func TestDispatch_HandlerFailureDoesNotAbortBatch(t *testing.T) {
	rec := newRecorder()
	rec.err = func(msg mq.Message) error {
		switch msg.Value {
		case 1:
			return errors.New("rejected")
		case 2:
			panic("handler bug")
		}
		return nil
	}
	s, _ := openTest(t, Config{Capacity: 8}, WithHandler(FlowMC, DestTransport, rec))
	require.NoError(t, s.Suspend(context.Background(), FlowMC))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Post(DestTransport, mq.Message{Value: uint64(i)}))
	}
	require.NoError(t, s.Resume(FlowMC))
	rec.wait(t, 4)

	require.Eventually(t, func() bool {
		q, _ := s.Stats().Queue(FlowMC, DestTransport)
		return q.Dispatched == 2 && q.Failed == 2
	}, time.Second, time.Millisecond)
}

func TestDispatch_PanicReleasesPayload(t *testing.T) {
	s, _ := openTest(t, Config{Capacity: 8},
		WithHandlerFunc(FlowTX, DestDataPath, func(context.Context, mq.Message) error {
			panic("handler bug")
		}))

	p := &payload{}
	require.NoError(t, s.PostFlow(FlowTX, DestDataPath, mq.Message{Payload: p}))
	require.Eventually(t, func() bool { return p.released.Load() == 1 }, time.Second, time.Millisecond)

	q, _ := s.Stats().Queue(FlowTX, DestDataPath)
	assert.Equal(t, uint64(1), q.Failed)
}

func TestDispatch_NoHandlerReleasesPayload(t *testing.T) {
	s, _ := openTest(t, Config{Capacity: 8})
	p := &payload{}
	require.NoError(t, s.Post(DestDataPath, mq.Message{Kind: 3, Payload: p}))

	require.Eventually(t, func() bool { return p.released.Load() == 1 }, time.Second, time.Millisecond)
	q, ok := s.Stats().Queue(FlowMC, DestDataPath)
	require.True(t, ok)
	assert.Equal(t, uint64(1), q.Dropped)
}

func TestDispatch_ServiceOrderAcrossQueues(t *testing.T) {
	var (
		mu    sync.Mutex
		order []Destination
	)
	done := make(chan struct{}, 8)
	h := func(d Destination) Option {
		return WithHandlerFunc(FlowMC, d, func(context.Context, mq.Message) error {
			mu.Lock()
			order = append(order, d)
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
	}
	s, _ := openTest(t, Config{Capacity: 8},
		h(DestSystem), h(DestTransport), h(DestMobility), h(DestManagement), h(DestDataPath))

	require.NoError(t, s.Suspend(context.Background(), FlowMC))
	for _, d := range []Destination{DestDataPath, DestManagement, DestMobility, DestTransport, DestSystem} {
		require.NoError(t, s.Post(d, mq.Message{}))
	}
	require.NoError(t, s.Resume(FlowMC))
	for i := 0; i < 5; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Destinations(FlowMC), order)
}

func TestClose_Idempotent(t *testing.T) {
	rec := newRecorder()
	s, err := Open(Config{Capacity: 8, EnableRX: true}, WithHandler(FlowRX, DestDataPath, rec))
	require.NoError(t, err)

	require.NoError(t, s.Suspend(context.Background(), FlowRX))
	p := &payload{}
	require.NoError(t, s.PostFlow(FlowRX, DestDataPath, mq.Message{Payload: p}))

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), p.released.Load(), "queued payload released at shutdown")
	for _, w := range s.Stats().Workers {
		assert.Equal(t, WorkerShutDown, w.State, w.Flow.String())
	}

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), p.released.Load())
	assert.Equal(t, 0, s.Stats().Pool.InUse)

	err = s.Post(DestSystem, mq.Message{})
	assert.ErrorIs(t, err, pkg.ErrNotRunning)
	assert.Empty(t, rec.msgs)
}

func TestHandlerContextCancelledOnClose(t *testing.T) {
	entered := make(chan struct{})
	s, err := Open(Config{Capacity: 4}, WithHandlerFunc(FlowMC, DestSystem, func(ctx context.Context, _ mq.Message) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)
	require.NoError(t, s.Post(DestSystem, mq.Message{}))
	<-entered
	require.NoError(t, s.Close())
}

func TestStarvationEscalates(t *testing.T) {
	s, f := openTest(t, Config{Capacity: 2, StarvationLimit: 3})
	require.NoError(t, s.Suspend(context.Background(), FlowMC))

	require.NoError(t, s.Post(DestSystem, mq.Message{}))
	require.NoError(t, s.Post(DestSystem, mq.Message{}))
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, s.Post(DestSystem, mq.Message{}), pkg.ErrResourceExhausted)
	}

	errs := f.list()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], pkg.ErrFatalStarvation)
	require.NoError(t, s.Resume(FlowMC))
}

func TestStarvationDefaultPanics(t *testing.T) {
	s, err := Open(Config{Capacity: 1, StarvationLimit: 1})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Suspend(context.Background(), FlowMC))
	require.NoError(t, s.Post(DestSystem, mq.Message{}))

	assert.Panics(t, func() { _ = s.Post(DestSystem, mq.Message{}) })
	require.NoError(t, s.Resume(FlowMC))
}

func TestSuspendResume(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 16}, WithHandler(FlowTX, DestDataPath, rec))

	require.NoError(t, s.Suspend(context.Background(), FlowTX))
	state, err := s.FlowState(FlowTX)
	require.NoError(t, err)
	assert.Equal(t, WorkerSuspended, state)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PostFlow(FlowTX, DestDataPath, mq.Message{Value: uint64(i)}))
	}
	select {
	case <-rec.ch:
		t.Fatal("message delivered while suspended")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, s.Resume(FlowTX))
	for i, msg := range rec.wait(t, 5) {
		assert.Equal(t, uint64(i), msg.Value)
	}

	// Resuming a running flow is a no-op.
	require.NoError(t, s.Resume(FlowTX))

	_, err = s.FlowState(FlowRX)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.ErrorIs(t, s.Suspend(context.Background(), FlowRX), pkg.ErrInvalidParameter)
	assert.ErrorIs(t, s.Resume(FlowRX), pkg.ErrInvalidParameter)
}

func TestSuspend_CancelledWithdraws(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 8},
		WithHandlerFunc(FlowMC, DestSystem, func(context.Context, mq.Message) error {
			entered <- struct{}{}
			<-block
			return nil
		}),
		WithHandler(FlowMC, DestManagement, rec),
	)

	require.NoError(t, s.Post(DestSystem, mq.Message{}))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Suspend(ctx, FlowMC)
	require.ErrorIs(t, err, pkg.ErrCancelled)

	close(block)
	require.NoError(t, s.Post(DestManagement, mq.Message{Value: 9}))
	got := rec.wait(t, 1)
	assert.Equal(t, uint64(9), got[0].Value)
}

func TestSuspend_ResumedBeforeParked(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 8},
		WithHandlerFunc(FlowMC, DestSystem, func(context.Context, mq.Message) error {
			entered <- struct{}{}
			<-block
			return nil
		}),
		WithHandler(FlowMC, DestManagement, rec),
	)

	require.NoError(t, s.Post(DestSystem, mq.Message{}))
	<-entered

	done := make(chan error, 1)
	go func() { done <- s.Suspend(context.Background(), FlowMC) }()

	// Wait until the request is registered, then withdraw it with Resume
	// while the worker is still inside the handler.
	w := s.workers[FlowMC]
	require.Eventually(t, func() bool {
		w.suspendMu.Lock()
		defer w.suspendMu.Unlock()
		return w.ack != nil
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Resume(FlowMC))
	close(block)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, pkg.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Suspend still blocked after Resume")
	}

	// The worker did not park.
	require.NoError(t, s.Post(DestManagement, mq.Message{Value: 3}))
	got := rec.wait(t, 1)
	assert.Equal(t, uint64(3), got[0].Value)
	state, err := s.FlowState(FlowMC)
	require.NoError(t, err)
	assert.NotEqual(t, WorkerSuspended, state)
}

func TestAfterFunc(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 4}, WithHandler(FlowMC, DestSystem, rec))

	start := time.Now()
	s.AfterFunc(15*time.Millisecond, FlowMC, DestSystem, mq.Message{Kind: 0x55})
	got := rec.wait(t, 1)
	assert.Equal(t, uint16(0x55), got[0].Kind)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestAfterFunc_ReleasesOnFailure(t *testing.T) {
	s, err := Open(Config{Capacity: 4})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	p := &payload{}
	s.AfterFunc(time.Millisecond, FlowMC, DestSystem, mq.Message{Payload: p})
	require.Eventually(t, func() bool { return p.released.Load() == 1 }, time.Second, time.Millisecond)
}

func TestPostRetry(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 1, StarvationLimit: 1 << 20}, WithHandler(FlowMC, DestManagement, rec))
	require.NoError(t, s.Suspend(context.Background(), FlowMC))
	require.NoError(t, s.Post(DestManagement, mq.Message{Value: 1}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Resume(FlowMC)
	}()

	err := s.PostRetry(context.Background(), FlowMC, DestManagement, mq.Message{Value: 2}, RetryPolicy{MaxElapsed: 5 * time.Second})
	require.NoError(t, err)
	got := rec.wait(t, 2)
	assert.Equal(t, uint64(1), got[0].Value)
	assert.Equal(t, uint64(2), got[1].Value)
}

func TestPostRetry_PermanentError(t *testing.T) {
	s, _ := openTest(t, Config{Capacity: 1})
	start := time.Now()
	err := s.PostRetry(context.Background(), FlowTX, DestMobility, mq.Message{}, RetryPolicy{})
	require.ErrorIs(t, err, pkg.ErrInvalidDestination)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPostRetry_GivesUp(t *testing.T) {
	s, _ := openTest(t, Config{Capacity: 1, StarvationLimit: 1 << 20})
	require.NoError(t, s.Suspend(context.Background(), FlowMC))
	require.NoError(t, s.Post(DestSystem, mq.Message{}))

	err := s.PostRetry(context.Background(), FlowMC, DestSystem, mq.Message{}, RetryPolicy{MaxTries: 3})
	require.ErrorIs(t, err, pkg.ErrResourceExhausted)
	require.NoError(t, s.Resume(FlowMC))
}

func TestStats(t *testing.T) {
	rec := newRecorder()
	s, _ := openTest(t, Config{Capacity: 8, EnableRX: true}, WithHandler(FlowRX, DestSystem, rec))
	require.NoError(t, s.PostFlow(FlowRX, DestSystem, mq.Message{}))
	rec.wait(t, 1)

	require.Eventually(t, func() bool {
		q, ok := s.Stats().Queue(FlowRX, DestSystem)
		return ok && q.Dispatched == 1
	}, time.Second, time.Millisecond)

	st := s.Stats()
	assert.Len(t, st.Workers, 3)
	assert.Len(t, st.Queues, len(Destinations(FlowMC))+len(Destinations(FlowTX))+len(Destinations(FlowRX)))
	q, _ := st.Queue(FlowRX, DestSystem)
	assert.Equal(t, "rx/sys", q.Name)
	assert.Equal(t, uint64(1), q.Enqueued)

	_, ok := st.Queue(FlowTX, DestMobility)
	assert.False(t, ok)
}
