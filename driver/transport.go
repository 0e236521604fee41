package driver

import (
	"context"
	"fmt"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

// Message kinds served by the driver queues.
const (
	KindFirmwareDownload uint16 = 0x0100 + iota // Transport: download the firmware image
	KindSetPower                                // Transport: Value carries the hal.PowerState
	KindFrame                                   // Data path: payload is a *Frame
)

// transport serves the transport adaptation queue of the control flow. It is
// the only code that touches the firmware loader and the power controller, so
// both are serialized with the rest of the control plane.
type transport struct {
	d *Driver
}

func (t *transport) HandleMessage(ctx context.Context, msg mq.Message) error {
	c, ok := msg.Payload.(sched.Completion)
	if !ok {
		mq.Release(&msg)
		return fmt.Errorf("%w: transport kind 0x%04x without completion", pkg.ErrInvalidParameter, msg.Kind)
	}

	var err error
	switch msg.Kind {
	case KindFirmwareDownload:
		err = t.download(ctx)
	case KindSetPower:
		err = t.setPower(ctx, hal.PowerState(msg.Value))
	default:
		err = fmt.Errorf("%w: transport kind 0x%04x", pkg.ErrUnknownMessage, msg.Kind)
	}
	c.Complete(err)
	return err
}

func (t *transport) download(ctx context.Context) error {
	if t.d.pm.State() != hal.PowerFull {
		if err := t.d.pm.SetState(ctx, hal.PowerFull); err != nil {
			return fmt.Errorf("power up: %w", err)
		}
	}
	if err := t.d.fw.Download(ctx, t.d.cfg.FirmwareImage); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentTransport, "firmware downloaded",
		"id", t.d.id, "bytes", len(t.d.cfg.FirmwareImage))
	return nil
}

func (t *transport) setPower(ctx context.Context, state hal.PowerState) error {
	from := t.d.pm.State()
	if err := t.d.pm.SetState(ctx, state); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentTransport, "power state changed", "id", t.d.id, "from", from, "to", state)
	return nil
}
