package sys

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

func call(kind Kind, flow sched.Flow, timeout time.Duration, bestEffort bool) sched.Call {
	return sched.Call{
		Flow:       flow,
		Dest:       sched.DestSystem,
		Kind:       uint16(kind),
		Cookie:     SysMsgCookie,
		Timeout:    timeout,
		BestEffort: bestEffort,
	}
}

// Start posts [MsgMCStart] and waits for the system module to acknowledge.
// A timeout is fatal.
func Start(ctx context.Context, s *sched.Scheduler, timeout time.Duration) error {
	return s.CallAndWait(ctx, call(MsgMCStart, sched.FlowMC, timeout, false))
}

// Stop posts [MsgMCStop] and waits for the upper MAC to stop. A timeout is
// fatal.
func Stop(ctx context.Context, s *sched.Scheduler, timeout time.Duration) error {
	return s.CallAndWait(ctx, call(MsgMCStop, sched.FlowMC, timeout, false))
}

// ProbeMC checks that the control flow worker is servicing its queues.
func ProbeMC(ctx context.Context, s *sched.Scheduler, timeout time.Duration) error {
	return s.CallAndWait(ctx, call(MsgMCThreadProbe, sched.FlowMC, timeout, true))
}

// ProbeTX checks that the transmit flow worker is servicing its queues.
func ProbeTX(ctx context.Context, s *sched.Scheduler, timeout time.Duration) error {
	return s.CallAndWait(ctx, call(MsgTXThreadProbe, sched.FlowTX, timeout, true))
}

func timerKind(flow sched.Flow) (Kind, error) {
	switch flow {
	case sched.FlowMC:
		return MsgMCTimer, nil
	case sched.FlowTX:
		return MsgTXTimer, nil
	case sched.FlowRX:
		return MsgRXTimer, nil
	default:
		return 0, fmt.Errorf("%w: timer on %s", pkg.ErrInvalidParameter, flow)
	}
}

// PostTimer runs fn on the worker of flow, after every message already queued
// for the flow's system queue.
func PostTimer(s *sched.Scheduler, flow sched.Flow, fn TimerFunc) error {
	kind, err := timerKind(flow)
	if err != nil {
		return err
	}
	return s.PostFlow(flow, sched.DestSystem, Message(kind, fn))
}

// AfterFunc runs fn on the worker of flow once d has elapsed.
func AfterFunc(s *sched.Scheduler, d time.Duration, flow sched.Flow, fn TimerFunc) (*time.Timer, error) {
	kind, err := timerKind(flow)
	if err != nil {
		return nil, err
	}
	if !s.HasFlow(flow) {
		return nil, fmt.Errorf("%w: flow %s not enabled", pkg.ErrInvalidDestination, flow)
	}
	return s.AfterFunc(d, flow, sched.DestSystem, Message(kind, fn)), nil
}

// PostFTM delivers a fine timing measurement response to the control flow.
// On error the caller keeps payload.
func PostFTM(s *sched.Scheduler, payload any) error {
	return s.Post(sched.DestSystem, Message(MsgFTMResponse, payload))
}
