package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

// rxErrorPause bounds how fast the pump spins on a failing bus.
const rxErrorPause = 10 * time.Millisecond

// transmit writes a queued frame to the bus. It runs on the transmit worker.
func (d *Driver) transmit(ctx context.Context, msg mq.Message) error {
	f, ok := msg.Payload.(*Frame)
	if !ok || msg.Kind != KindFrame {
		mq.Release(&msg)
		return fmt.Errorf("%w: tx kind 0x%04x payload %T", pkg.ErrInvalidParameter, msg.Kind, msg.Payload)
	}
	defer f.Release()

	if _, err := d.bus.Write(ctx, f.Bytes()); err != nil {
		d.txErrors.Add(1)
		return fmt.Errorf("write %d bytes: %w", f.Len(), err)
	}
	d.txFrames.Add(1)
	return nil
}

// receive delivers a received frame upward. It runs on the receive worker.
func (d *Driver) receive(_ context.Context, msg mq.Message) error {
	f, ok := msg.Payload.(*Frame)
	if !ok || msg.Kind != KindFrame {
		mq.Release(&msg)
		return fmt.Errorf("%w: rx kind 0x%04x payload %T", pkg.ErrInvalidParameter, msg.Kind, msg.Payload)
	}
	defer f.Release()

	d.rxFrames.Add(1)
	if fn := d.onRecv.Load(); fn != nil {
		(*fn)(f.Bytes())
	}
	return nil
}

// pump reads frames from the bus and queues them on the receive data path
// until ctx is cancelled or the bus stops. A frame that cannot get a buffer
// or an envelope is dropped.
func (d *Driver) pump(ctx context.Context, s *sched.Scheduler) {
	defer close(d.rxDone)
	flow := d.rxFlow()
	var scratch [hal.MaxFrameSize]byte

	for {
		n, err := d.bus.Read(ctx, scratch[:])
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pkg.ErrNotRunning) {
				pkg.LogDebug(pkg.ComponentDataPath, "receive pump exited", "id", d.id)
				return
			}
			pkg.LogWarn(pkg.ComponentDataPath, "bus read failed", "id", d.id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(rxErrorPause):
			}
			continue
		}

		f, err := d.frames.get()
		if err != nil {
			d.rxDropped.Add(1)
			continue
		}
		f.n = copy(f.buf[:], scratch[:n])

		msg := mq.Message{Kind: KindFrame, Payload: f}
		if err := s.PostRetry(ctx, flow, sched.DestDataPath, msg, d.cfg.Retry); err != nil {
			f.Release()
			d.rxDropped.Add(1)
			if ctx.Err() == nil {
				pkg.LogWarn(pkg.ComponentDataPath, "received frame dropped", "id", d.id, "error", err)
			}
		}
	}
}
