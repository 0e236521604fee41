package driver

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
)

// Frame is a pooled buffer carrying one bus frame through the data path. It
// implements mq.Releaser; whoever holds it last returns it with Release.
type Frame struct {
	buf  [hal.MaxFrameSize]byte
	n    int
	pool *framePool
	held atomic.Bool
}

// Bytes returns the frame contents.
func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

// Len returns the frame length.
func (f *Frame) Len() int {
	return f.n
}

// Release returns the frame to its pool.
func (f *Frame) Release() {
	if f == nil || f.pool == nil {
		return
	}
	if !f.held.CompareAndSwap(true, false) {
		pkg.LogWarn(pkg.ComponentDataPath, "frame released twice")
		return
	}
	f.n = 0
	f.pool.free <- f
}

// framePool is a fixed set of frames. All frames are allocated up front.
type framePool struct {
	free chan *Frame
}

func newFramePool(n int) *framePool {
	p := &framePool{free: make(chan *Frame, n)}
	for i := 0; i < n; i++ {
		p.free <- &Frame{pool: p}
	}
	return p
}

// get takes a free frame without blocking.
func (p *framePool) get() (*Frame, error) {
	select {
	case f := <-p.free:
		f.held.Store(true)
		return f, nil
	default:
		return nil, fmt.Errorf("%w: frame pool", pkg.ErrResourceExhausted)
	}
}

// Free returns the number of idle frames.
func (p *framePool) Free() int {
	return len(p.free)
}

// Cap returns the pool size.
func (p *framePool) Cap() int {
	return cap(p.free)
}
