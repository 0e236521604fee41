package sys

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

type payload struct {
	released atomic.Int32
}

func (p *payload) Release() { p.released.Add(1) }

type ftmSink struct {
	got chan any
}

func (f *ftmSink) HandleFTM(_ context.Context, payload any) error {
	f.got <- payload
	return nil
}

func openSched(t *testing.T, cfg Config, rx bool, extra ...sched.Option) *sched.Scheduler {
	t.Helper()
	opts := append(Bind(cfg, rx), extra...)
	s, err := sched.Open(sched.Config{Capacity: 16, EnableRX: rx, OnFault: func(error) {}}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  mq.Message
		gen  Generation
		kind Kind
	}{
		{"sys start", Message(MsgMCStart, nil), GenerationSys, MsgMCStart},
		{"sys ftm", Message(MsgFTMResponse, nil), GenerationSys, MsgFTMResponse},
		{"legacy same kind", mq.Message{Kind: uint16(MsgMCStart)}, GenerationLegacy, 0},
		{"legacy other cookie", mq.Message{Kind: 9, Cookie: 0xBEEF}, GenerationLegacy, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Decode(tt.msg)
			assert.Equal(t, tt.gen, req.Generation)
			assert.Equal(t, tt.kind, req.Kind)
			assert.Equal(t, tt.msg, req.Msg)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "mc-start", MsgMCStart.String())
	assert.Equal(t, "rx-timer", MsgRXTimer.String())
	assert.Equal(t, "kind(0x00ff)", Kind(0xff).String())
	assert.Equal(t, "sys", GenerationSys.String())
	assert.Equal(t, "legacy", GenerationLegacy.String())
}

func TestStartStopProbe(t *testing.T) {
	var stopped atomic.Int32
	s := openSched(t, Config{Stopper: StopperFunc(func(context.Context) error {
		stopped.Add(1)
		return nil
	})}, false)
	ctx := context.Background()

	require.NoError(t, Start(ctx, s, time.Second))
	require.NoError(t, ProbeMC(ctx, s, time.Second))
	require.NoError(t, ProbeTX(ctx, s, time.Second))
	require.NoError(t, Stop(ctx, s, time.Second))
	assert.Equal(t, int32(1), stopped.Load())

	st := s.Stats().Handshakes
	assert.Equal(t, uint64(4), st.Completed)
	assert.Zero(t, st.TimedOut)
}

func TestStopPropagatesStopperError(t *testing.T) {
	want := errors.New("mac busy")
	s := openSched(t, Config{Stopper: StopperFunc(func(context.Context) error { return want })}, false)
	err := Stop(context.Background(), s, time.Second)
	assert.ErrorIs(t, err, want)
}

func TestStopWithSlowStopper(t *testing.T) {
	s := openSched(t, Config{Stopper: StopperFunc(func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})}, false)

	start := time.Now()
	require.NoError(t, Stop(context.Background(), s, 5*time.Second))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	st := s.Stats().Handshakes
	assert.Equal(t, uint64(1), st.Completed)
	assert.Zero(t, st.TimedOut)
}

func TestTimerRunsInOrderOnWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	done := make(chan struct{})
	s := openSched(t, Config{}, true)

	require.NoError(t, s.Suspend(context.Background(), sched.FlowRX))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, PostTimer(s, sched.FlowRX, func(context.Context) {
			mu.Lock()
			order = append(order, name)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		}))
	}
	require.NoError(t, s.Resume(sched.FlowRX))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timers did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPostTimer_Errors(t *testing.T) {
	s := openSched(t, Config{}, false)
	err := PostTimer(s, sched.FlowRX, func(context.Context) {})
	assert.ErrorIs(t, err, pkg.ErrInvalidDestination)

	err = PostTimer(s, sched.Flow(9), func(context.Context) {})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	_, err = AfterFunc(s, time.Millisecond, sched.FlowRX, func(context.Context) {})
	assert.ErrorIs(t, err, pkg.ErrInvalidDestination)
}

func TestAfterFunc(t *testing.T) {
	s := openSched(t, Config{}, false)
	fired := make(chan time.Time, 1)
	start := time.Now()
	_, err := AfterFunc(s, 10*time.Millisecond, sched.FlowTX, func(context.Context) {
		fired <- time.Now()
	})
	require.NoError(t, err)

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 10*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestFTMForwarded(t *testing.T) {
	sink := &ftmSink{got: make(chan any, 1)}
	s := openSched(t, Config{FTM: sink}, false)

	p := &payload{}
	require.NoError(t, PostFTM(s, p))
	select {
	case got := <-sink.got:
		assert.Same(t, p, got)
		assert.Equal(t, int32(0), p.released.Load(), "sink owns the payload")
	case <-time.After(5 * time.Second):
		t.Fatal("ftm response not forwarded")
	}
}

func TestHandler_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		flow    sched.Flow
		cfg     Config
		msg     func(p *payload) mq.Message
		wantErr error
	}{
		{
			name:    "unknown kind",
			flow:    sched.FlowMC,
			msg:     func(p *payload) mq.Message { return Message(Kind(0x7f), p) },
			wantErr: pkg.ErrUnknownMessage,
		},
		{
			name:    "control kind on tx",
			flow:    sched.FlowTX,
			msg:     func(p *payload) mq.Message { return Message(MsgMCStart, p) },
			wantErr: pkg.ErrUnknownMessage,
		},
		{
			name:    "legacy without handler",
			flow:    sched.FlowMC,
			msg:     func(p *payload) mq.Message { return mq.Message{Kind: 1, Payload: p} },
			wantErr: pkg.ErrNoHandler,
		},
		{
			name:    "ftm without sink",
			flow:    sched.FlowMC,
			msg:     func(p *payload) mq.Message { return Message(MsgFTMResponse, p) },
			wantErr: pkg.ErrNoHandler,
		},
		{
			name:    "timer without func",
			flow:    sched.FlowTX,
			msg:     func(p *payload) mq.Message { return Message(MsgTXTimer, p) },
			wantErr: pkg.ErrInvalidParameter,
		},
		{
			name:    "probe with foreign payload",
			flow:    sched.FlowTX,
			msg:     func(p *payload) mq.Message { return Message(MsgTXThreadProbe, p) },
			wantErr: pkg.ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.flow, tt.cfg)
			p := &payload{}
			err := h.HandleMessage(ctx, tt.msg(p))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(1), p.released.Load(), "payload released")
		})
	}
}

func TestHandler_LegacyForwarded(t *testing.T) {
	got := make(chan mq.Message, 1)
	legacy := sched.HandlerFunc(func(_ context.Context, msg mq.Message) error {
		got <- msg
		return nil
	})
	h := NewHandler(sched.FlowMC, Config{Legacy: legacy})

	// Same kind number as a start request, but no cookie.
	require.NoError(t, h.HandleMessage(context.Background(), mq.Message{Kind: uint16(MsgMCStart), Value: 3}))
	msg := <-got
	assert.Equal(t, uint64(3), msg.Value)

	st := h.Stats()
	assert.Equal(t, uint64(1), st.Legacy)
	assert.Zero(t, st.Handled)
}

func TestHandler_FireAndForget(t *testing.T) {
	h := NewHandler(sched.FlowMC, Config{})
	require.NoError(t, h.HandleMessage(context.Background(), Message(MsgMCThreadProbe, nil)))
	assert.Equal(t, uint64(1), h.Stats().Handled)
}
