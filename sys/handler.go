package sys

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

// Stopper stops the upper MAC in response to [MsgMCStop].
type Stopper interface {
	StopMAC(ctx context.Context) error
}

// StopperFunc adapts a function to [Stopper].
type StopperFunc func(ctx context.Context) error

// StopMAC calls f.
func (f StopperFunc) StopMAC(ctx context.Context) error { return f(ctx) }

// FTMSink consumes fine timing measurement responses. It takes ownership of
// the payload.
type FTMSink interface {
	HandleFTM(ctx context.Context, payload any) error
}

// TimerFunc is the payload of a timer message. It runs on the worker of the
// flow it was posted to.
type TimerFunc func(ctx context.Context)

// Config holds the collaborators of the system handler. Every field is
// optional.
type Config struct {
	Stopper Stopper
	FTM     FTMSink

	// Legacy receives messages without [SysMsgCookie]. If nil they are
	// dropped.
	Legacy sched.Handler
}

// Handler serves the system queue of one flow.
type Handler struct {
	flow sched.Flow
	cfg  Config

	handled atomic.Uint64
	legacy  atomic.Uint64
	unknown atomic.Uint64
}

// NewHandler creates the system handler for flow.
func NewHandler(flow sched.Flow, cfg Config) *Handler {
	return &Handler{flow: flow, cfg: cfg}
}

// Bind returns scheduler options binding a system handler to the system
// queue of the control and transmit flows, and of the receive flow if
// enableRX is set.
func Bind(cfg Config, enableRX bool) []sched.Option {
	var opts []sched.Option
	for _, f := range sched.Flows() {
		if f == sched.FlowRX && !enableRX {
			continue
		}
		opts = append(opts, sched.WithHandler(f, sched.DestSystem, NewHandler(f, cfg)))
	}
	return opts
}

// HandlerStats counts messages seen by a [Handler].
type HandlerStats struct {
	Handled uint64
	Legacy  uint64
	Unknown uint64
}

// Stats returns the handler counters.
func (h *Handler) Stats() HandlerStats {
	return HandlerStats{
		Handled: h.handled.Load(),
		Legacy:  h.legacy.Load(),
		Unknown: h.unknown.Load(),
	}
}

// HandleMessage implements [sched.Handler].
func (h *Handler) HandleMessage(ctx context.Context, msg mq.Message) error {
	req := Decode(msg)
	if req.Generation == GenerationLegacy {
		h.legacy.Add(1)
		if h.cfg.Legacy == nil {
			mq.Release(&msg)
			return fmt.Errorf("%w: legacy kind 0x%04x on %s", pkg.ErrNoHandler, msg.Kind, h.flow)
		}
		return h.cfg.Legacy.HandleMessage(ctx, msg)
	}

	if !h.accepts(req.Kind) {
		h.unknown.Add(1)
		mq.Release(&msg)
		return fmt.Errorf("%w: %s on %s", pkg.ErrUnknownMessage, req.Kind, h.flow)
	}
	h.handled.Add(1)

	switch req.Kind {
	case MsgMCStart:
		pkg.LogInfo(pkg.ComponentSys, "control plane started")
		return complete(msg, nil)

	case MsgMCStop:
		var err error
		if h.cfg.Stopper != nil {
			err = h.cfg.Stopper.StopMAC(ctx)
		}
		pkg.LogInfo(pkg.ComponentSys, "control plane stopped", "status", pkg.StatusOf(err))
		return complete(msg, err)

	case MsgMCThreadProbe, MsgTXThreadProbe:
		pkg.LogDebug(pkg.ComponentSys, "thread probe", "flow", h.flow)
		return complete(msg, nil)

	case MsgMCTimer, MsgTXTimer, MsgRXTimer:
		fn, ok := msg.Payload.(TimerFunc)
		if !ok || fn == nil {
			mq.Release(&msg)
			return fmt.Errorf("%w: %s payload %T", pkg.ErrInvalidParameter, req.Kind, msg.Payload)
		}
		fn(ctx)
		return nil

	case MsgFTMResponse:
		if h.cfg.FTM == nil {
			mq.Release(&msg)
			return fmt.Errorf("%w: ftm response", pkg.ErrNoHandler)
		}
		return h.cfg.FTM.HandleFTM(ctx, msg.Payload)
	}
	return nil
}

// accepts reports whether kind is served on the handler's flow.
func (h *Handler) accepts(kind Kind) bool {
	switch h.flow {
	case sched.FlowMC:
		switch kind {
		case MsgMCStart, MsgMCStop, MsgMCThreadProbe, MsgMCTimer, MsgFTMResponse:
			return true
		}
	case sched.FlowTX:
		return kind == MsgTXThreadProbe || kind == MsgTXTimer
	case sched.FlowRX:
		return kind == MsgRXTimer
	}
	return false
}

// complete answers a handshake message. A message posted without a waiter
// carries no completion and needs no answer.
func complete(msg mq.Message, err error) error {
	switch c := msg.Payload.(type) {
	case sched.Completion:
		c.Complete(err)
		return nil
	case nil:
		return err
	default:
		mq.Release(&msg)
		return fmt.Errorf("%w: unexpected payload %T", pkg.ErrInvalidParameter, c)
	}
}
