package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
)

// DefaultDepth is the number of frames a [Bus] buffers when created with a
// non-positive depth.
const DefaultDepth = 256

// BusStats counts bus traffic.
type BusStats struct {
	FramesWritten uint64
	FramesRead    uint64
	BytesWritten  uint64
	BytesRead     uint64
	WriteErrors   uint64
}

// Bus implements hal.BusHAL by looping written frames back to Read.
type Bus struct {
	frames chan []byte

	mutex    sync.Mutex
	initDone bool
	started  bool
	stopCh   chan struct{}
	failInit error
	failW    error

	framesWritten atomic.Uint64
	framesRead    atomic.Uint64
	bytesWritten  atomic.Uint64
	bytesRead     atomic.Uint64
	writeErrors   atomic.Uint64
}

var _ hal.BusHAL = (*Bus)(nil)

// NewBus creates a loopback bus buffering up to depth frames.
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Bus{frames: make(chan []byte, depth)}
}

// FailInit makes the next Init return err.
func (b *Bus) FailInit(err error) {
	b.mutex.Lock()
	b.failInit = err
	b.mutex.Unlock()
}

// FailWrites makes every Write return err until called again with nil.
func (b *Bus) FailWrites(err error) {
	b.mutex.Lock()
	b.failW = err
	b.mutex.Unlock()
}

// Init implements hal.BusHAL.
func (b *Bus) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.failInit; err != nil {
		b.failInit = nil
		return fmt.Errorf("%w: init: %w", pkg.ErrBus, err)
	}
	if b.initDone {
		return pkg.ErrAlreadyRunning
	}
	b.initDone = true
	pkg.LogDebug(pkg.ComponentHAL, "loopback bus initialized", "depth", cap(b.frames))
	return nil
}

// Start implements hal.BusHAL.
func (b *Bus) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.initDone {
		return fmt.Errorf("%w: bus not initialized", pkg.ErrNotRunning)
	}
	if b.started {
		return pkg.ErrAlreadyRunning
	}
	b.started = true
	b.stopCh = make(chan struct{})
	return nil
}

// Stop implements hal.BusHAL. Frames still buffered are discarded.
func (b *Bus) Stop() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.started {
		return nil
	}
	b.started = false
	close(b.stopCh)
	for {
		select {
		case <-b.frames:
		default:
			return nil
		}
	}
}

func (b *Bus) running() (chan struct{}, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.started {
		return nil, fmt.Errorf("%w: bus stopped", pkg.ErrNotRunning)
	}
	return b.stopCh, b.failW
}

// Write implements hal.BusHAL. It blocks while the loopback buffer is full.
func (b *Bus) Write(ctx context.Context, frame []byte) (int, error) {
	stop, err := b.running()
	if stop == nil {
		return 0, err
	}
	if err != nil {
		b.writeErrors.Add(1)
		return 0, fmt.Errorf("%w: write: %w", pkg.ErrBus, err)
	}
	if len(frame) > hal.MaxFrameSize {
		b.writeErrors.Add(1)
		return 0, fmt.Errorf("%w: frame of %d bytes", pkg.ErrInvalidParameter, len(frame))
	}

	buf := append([]byte(nil), frame...)
	select {
	case b.frames <- buf:
	case <-stop:
		return 0, fmt.Errorf("%w: bus stopped", pkg.ErrNotRunning)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	b.framesWritten.Add(1)
	b.bytesWritten.Add(uint64(len(frame)))
	return len(frame), nil
}

// Read implements hal.BusHAL.
func (b *Bus) Read(ctx context.Context, buf []byte) (int, error) {
	stop, err := b.running()
	if stop == nil {
		return 0, err
	}
	select {
	case frame := <-b.frames:
		n := copy(buf, frame)
		b.framesRead.Add(1)
		b.bytesRead.Add(uint64(n))
		return n, nil
	case <-stop:
		return 0, fmt.Errorf("%w: bus stopped", pkg.ErrNotRunning)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kind implements hal.BusHAL.
func (b *Bus) Kind() hal.BusKind {
	return hal.BusLoopback
}

// Stats returns the bus counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		FramesWritten: b.framesWritten.Load(),
		FramesRead:    b.framesRead.Load(),
		BytesWritten:  b.bytesWritten.Load(),
		BytesRead:     b.bytesRead.Load(),
		WriteErrors:   b.writeErrors.Load(),
	}
}
