package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
	"github.com/ardnew/softwlan/sys"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultStartTimeout = 5 * time.Second
	DefaultStopTimeout  = 5 * time.Second
	DefaultProbeTimeout = time.Second
)

// Config holds driver parameters.
type Config struct {
	Sched sched.Config

	StartTimeout time.Duration // Start and firmware handshakes
	StopTimeout  time.Duration // Stop handshake
	ProbeTimeout time.Duration // Thread probes

	// FirmwareImage is downloaded during Start.
	FirmwareImage []byte

	// Frames is the number of pooled frame buffers shared by both data
	// paths. Zero means the scheduler capacity.
	Frames int

	// SendRetry makes Send retry while the envelope pool is exhausted.
	SendRetry bool
	Retry     sched.RetryPolicy
}

// State is the driver lifecycle state.
type State int32

// Driver states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateSuspended
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Option configures optional driver behavior.
type Option func(*Driver)

// WithStopper sets the collaborator that stops the upper MAC on Stop.
func WithStopper(st sys.Stopper) Option {
	return func(d *Driver) { d.sysCfg.Stopper = st }
}

// WithFTMSink sets the consumer of fine timing measurement responses.
func WithFTMSink(sink sys.FTMSink) Option {
	return func(d *Driver) { d.sysCfg.FTM = sink }
}

// WithLegacyHandler sets the handler for system messages without the
// current cookie.
func WithLegacyHandler(h sched.Handler) Option {
	return func(d *Driver) { d.sysCfg.Legacy = h }
}

// Driver is one WLAN driver instance.
type Driver struct {
	id     uuid.UUID
	cfg    Config
	sysCfg sys.Config

	bus hal.BusHAL
	fw  hal.FirmwareLoader
	pm  hal.PowerController

	frames *framePool
	onRecv atomic.Pointer[func(frame []byte)]

	// State. mutex serializes lifecycle transitions; s is read lock-free by
	// the data path.
	mutex sync.Mutex
	state atomic.Int32
	s     atomic.Pointer[sched.Scheduler]

	// Receive pump
	rxCancel context.CancelFunc
	rxDone   chan struct{}

	txFrames  atomic.Uint64
	txErrors  atomic.Uint64
	rxFrames  atomic.Uint64
	rxDropped atomic.Uint64
}

// New creates a stopped driver over the given collaborators.
func New(cfg Config, bus hal.BusHAL, fw hal.FirmwareLoader, pm hal.PowerController, opts ...Option) (*Driver, error) {
	if bus == nil || fw == nil || pm == nil {
		return nil, fmt.Errorf("%w: nil hal collaborator", pkg.ErrInvalidParameter)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Sched.Capacity == 0 {
		cfg.Sched.Capacity = sched.DefaultCapacity
	}
	if cfg.Frames <= 0 {
		cfg.Frames = cfg.Sched.Capacity
	}
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("%w: %d frames", pkg.ErrInvalidParameter, cfg.Frames)
	}

	d := &Driver{
		id:     uuid.New(),
		cfg:    cfg,
		bus:    bus,
		fw:     fw,
		pm:     pm,
		frames: newFramePool(cfg.Frames),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ID returns the instance id used in logs.
func (d *Driver) ID() uuid.UUID {
	return d.id
}

// State returns the lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Scheduler returns the scheduler of a started driver, or nil.
func (d *Driver) Scheduler() *sched.Scheduler {
	return d.s.Load()
}

// rxFlow is the flow carrying received frames.
func (d *Driver) rxFlow() sched.Flow {
	if d.cfg.Sched.EnableRX {
		return sched.FlowRX
	}
	return sched.FlowMC
}

// Start brings the driver up. On failure everything already started is torn
// down again and the driver is left stopped.
func (d *Driver) Start(ctx context.Context) (err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.State() != StateStopped {
		return pkg.ErrAlreadyRunning
	}
	d.setState(StateStarting)
	pkg.LogInfo(pkg.ComponentDriver, "starting driver", "id", d.id, "bus", d.bus.Kind())

	opts := sys.Bind(d.sysCfg, d.cfg.Sched.EnableRX)
	opts = append(opts,
		sched.WithHandler(sched.FlowMC, sched.DestTransport, &transport{d: d}),
		sched.WithHandlerFunc(sched.FlowTX, sched.DestDataPath, d.transmit),
		sched.WithHandlerFunc(d.rxFlow(), sched.DestDataPath, d.receive),
	)

	s, err := sched.Open(d.cfg.Sched, opts...)
	if err != nil {
		d.setState(StateStopped)
		return err
	}

	busStarted := false
	defer func() {
		if err == nil {
			return
		}
		if busStarted {
			err = multierr.Append(err, d.bus.Stop())
		}
		err = multierr.Append(err, s.Close())
		d.setState(StateStopped)
		pkg.LogError(pkg.ComponentDriver, "driver start failed", "id", d.id, "error", err)
	}()

	if err = d.bus.Init(ctx); err != nil && !errors.Is(err, pkg.ErrAlreadyRunning) {
		return fmt.Errorf("bus init: %w", err)
	}
	if err = d.bus.Start(); err != nil {
		return fmt.Errorf("bus start: %w", err)
	}
	busStarted = true

	if err = sys.Start(ctx, s, d.cfg.StartTimeout); err != nil {
		return fmt.Errorf("system start: %w", err)
	}
	if err = s.CallAndWait(ctx, sched.Call{
		Flow:    sched.FlowMC,
		Dest:    sched.DestTransport,
		Kind:    KindFirmwareDownload,
		Timeout: d.cfg.StartTimeout,
	}); err != nil {
		return fmt.Errorf("firmware download: %w", err)
	}

	d.s.Store(s)
	rxCtx, cancel := context.WithCancel(context.Background())
	d.rxCancel = cancel
	d.rxDone = make(chan struct{})
	go d.pump(rxCtx, s)

	d.setState(StateRunning)
	pkg.LogInfo(pkg.ComponentDriver, "driver running", "id", d.id, "rx", d.rxFlow())
	return nil
}

// Stop stops the upper MAC, the receive pump, the bus and the scheduler.
// Every step runs even if an earlier one fails; the errors are combined.
func (d *Driver) Stop(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	prev := d.State()
	if prev != StateRunning && prev != StateSuspended {
		return nil
	}
	d.setState(StateStopping)
	s := d.s.Load()

	var err error
	if prev == StateSuspended {
		err = multierr.Append(err, d.resumeFlows(s))
	}
	err = multierr.Append(err, sys.Stop(ctx, s, d.cfg.StopTimeout))

	d.rxCancel()
	err = multierr.Append(err, d.bus.Stop())
	<-d.rxDone

	err = multierr.Append(err, s.Close())
	err = multierr.Append(err, d.pm.SetState(ctx, hal.PowerOff))

	d.s.Store(nil)
	d.setState(StateStopped)
	pkg.LogInfo(pkg.ComponentDriver, "driver stopped", "id", d.id, "status", pkg.StatusOf(err))
	return err
}

// Send queues a copy of frame for transmission. It returns once the frame is
// queued, not written.
func (d *Driver) Send(ctx context.Context, frame []byte) error {
	if st := d.State(); st != StateRunning && st != StateSuspended {
		return fmt.Errorf("%w: driver %s", pkg.ErrNotRunning, st)
	}
	if len(frame) > hal.MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", pkg.ErrInvalidParameter, len(frame))
	}
	s := d.Scheduler()
	if s == nil {
		return pkg.ErrNotRunning
	}

	f, err := d.frames.get()
	if err != nil {
		d.txErrors.Add(1)
		return err
	}
	f.n = copy(f.buf[:], frame)

	msg := mq.Message{Kind: KindFrame, Payload: f}
	if d.cfg.SendRetry {
		err = s.PostRetry(ctx, sched.FlowTX, sched.DestDataPath, msg, d.cfg.Retry)
	} else {
		err = s.PostFlow(sched.FlowTX, sched.DestDataPath, msg)
	}
	if err != nil {
		f.Release()
		d.txErrors.Add(1)
		return err
	}
	return nil
}

// OnReceive sets the callback for received frames. It runs on the receive
// worker; frame is only valid until it returns.
func (d *Driver) OnReceive(fn func(frame []byte)) {
	if fn == nil {
		d.onRecv.Store(nil)
		return
	}
	d.onRecv.Store(&fn)
}

// Probe checks that the control and transmit workers respond.
func (d *Driver) Probe(ctx context.Context) error {
	s := d.Scheduler()
	if s == nil {
		return pkg.ErrNotRunning
	}
	return multierr.Combine(
		sys.ProbeMC(ctx, s, d.cfg.ProbeTimeout),
		sys.ProbeTX(ctx, s, d.cfg.ProbeTimeout),
	)
}

// DriverStats is a snapshot of driver counters.
type DriverStats struct {
	ID         uuid.UUID
	State      State
	TxFrames   uint64
	TxErrors   uint64
	RxFrames   uint64
	RxDropped  uint64
	FramesFree int
	Frames     int
}

// Stats returns the driver counters.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		ID:         d.id,
		State:      d.State(),
		TxFrames:   d.txFrames.Load(),
		TxErrors:   d.txErrors.Load(),
		RxFrames:   d.rxFrames.Load(),
		RxDropped:  d.rxDropped.Load(),
		FramesFree: d.frames.Free(),
		Frames:     d.frames.Cap(),
	}
}
