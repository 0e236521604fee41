package driver

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

// dataFlows returns the flows parked across a power transition.
func (d *Driver) dataFlows() []sched.Flow {
	if d.cfg.Sched.EnableRX {
		return []sched.Flow{sched.FlowTX, sched.FlowRX}
	}
	return []sched.Flow{sched.FlowTX}
}

func (d *Driver) setPower(ctx context.Context, s *sched.Scheduler, state hal.PowerState) error {
	return s.CallAndWait(ctx, sched.Call{
		Flow:    sched.FlowMC,
		Dest:    sched.DestTransport,
		Kind:    KindSetPower,
		Value:   uint64(state),
		Timeout: d.cfg.StartTimeout,
	})
}

func (d *Driver) resumeFlows(s *sched.Scheduler) error {
	var err error
	for _, f := range d.dataFlows() {
		err = multierr.Append(err, s.Resume(f))
	}
	return err
}

// Suspend parks the data flows and moves the chip to state. Frames sent while
// suspended are queued and transmitted after Resume.
func (d *Driver) Suspend(ctx context.Context, state hal.PowerState) error {
	if state == hal.PowerFull {
		return fmt.Errorf("%w: suspend to %s", pkg.ErrInvalidParameter, state)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if st := d.State(); st != StateRunning {
		if st == StateSuspended {
			return pkg.ErrSuspended
		}
		return fmt.Errorf("%w: driver %s", pkg.ErrNotRunning, st)
	}
	s := d.s.Load()

	for _, f := range d.dataFlows() {
		if err := s.Suspend(ctx, f); err != nil {
			return multierr.Append(err, d.resumeFlows(s))
		}
	}
	if err := d.setPower(ctx, s, state); err != nil {
		return multierr.Append(fmt.Errorf("enter %s: %w", state, err), d.resumeFlows(s))
	}

	d.setState(StateSuspended)
	pkg.LogInfo(pkg.ComponentDriver, "driver suspended", "id", d.id, "power", state)
	return nil
}

// Resume powers the chip up and releases the data flows.
func (d *Driver) Resume(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if st := d.State(); st != StateSuspended {
		return fmt.Errorf("%w: driver %s", pkg.ErrNotRunning, st)
	}
	s := d.s.Load()

	if err := d.setPower(ctx, s, hal.PowerFull); err != nil {
		return fmt.Errorf("leave %s: %w", d.pm.State(), err)
	}
	if err := d.resumeFlows(s); err != nil {
		return err
	}

	d.setState(StateRunning)
	pkg.LogInfo(pkg.ComponentDriver, "driver resumed", "id", d.id)
	return nil
}
