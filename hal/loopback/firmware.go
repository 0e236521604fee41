package loopback

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
)

// Firmware implements hal.FirmwareLoader by recording a digest of each image.
type Firmware struct {
	mutex   sync.Mutex
	images  [][sha256.Size]byte
	fail    error
	rejects int
}

var _ hal.FirmwareLoader = (*Firmware)(nil)

// NewFirmware creates a loader that accepts every non-empty image.
func NewFirmware() *Firmware {
	return &Firmware{}
}

// Fail makes every Download return err until called again with nil.
func (f *Firmware) Fail(err error) {
	f.mutex.Lock()
	f.fail = err
	f.mutex.Unlock()
}

// Download implements hal.FirmwareLoader.
func (f *Firmware) Download(ctx context.Context, image []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.fail != nil {
		f.rejects++
		return fmt.Errorf("%w: %w", pkg.ErrFirmware, f.fail)
	}
	if len(image) == 0 {
		f.rejects++
		return fmt.Errorf("%w: empty image", pkg.ErrFirmware)
	}
	sum := sha256.Sum256(image)
	f.images = append(f.images, sum)
	pkg.LogDebug(pkg.ComponentHAL, "firmware downloaded", "bytes", len(image), "sha256", fmt.Sprintf("%x", sum[:8]))
	return nil
}

// Downloads returns the number of accepted images.
func (f *Firmware) Downloads() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.images)
}

// Last returns the digest of the last accepted image.
func (f *Firmware) Last() ([sha256.Size]byte, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.images) == 0 {
		return [sha256.Size]byte{}, false
	}
	return f.images[len(f.images)-1], true
}
