package hal

import (
	"context"
	"fmt"
	"strings"

	"github.com/ardnew/softwlan/pkg"
)

// MaxFrameSize is the largest frame a bus transfers in one Read or Write.
const MaxFrameSize = 2048

// BusKind identifies the physical bus to the chip.
type BusKind uint8

// Bus kinds.
const (
	BusUnknown BusKind = iota
	BusSDIO
	BusUSB
	BusPCI
	BusLoopback // In-memory, frames written are read back
)

// String returns the bus name.
func (k BusKind) String() string {
	switch k {
	case BusSDIO:
		return "sdio"
	case BusUSB:
		return "usb"
	case BusPCI:
		return "pci"
	case BusLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// PowerState is a chip power mode.
type PowerState uint8

// Power states, from most to least power.
const (
	PowerFull      PowerState = iota // Fully awake
	PowerBmps                        // Beacon-mode power save, associated
	PowerImps                        // Idle-mode power save, not associated
	PowerDeepSleep                   // Firmware retained, radio off
	PowerOff                         // Chip unpowered
)

// String returns the power state name.
func (s PowerState) String() string {
	switch s {
	case PowerFull:
		return "full"
	case PowerBmps:
		return "bmps"
	case PowerImps:
		return "imps"
	case PowerDeepSleep:
		return "deep-sleep"
	case PowerOff:
		return "off"
	default:
		return fmt.Sprintf("power(%d)", uint8(s))
	}
}

// ParsePowerState parses a name as printed by [PowerState.String].
func ParsePowerState(s string) (PowerState, error) {
	for p := PowerFull; p <= PowerOff; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: power state %q", pkg.ErrInvalidParameter, s)
}

// BusHAL moves frames between the host and the chip.
type BusHAL interface {
	// Init claims and initializes the bus.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start enables frame transfer.
	Start() error

	// Stop disables frame transfer. Blocked Read and Write calls return.
	Stop() error

	// Write sends one frame. Returns the number of bytes written.
	Write(ctx context.Context, frame []byte) (int, error)

	// Read blocks until a frame arrives, copies it into buf and returns its
	// length. Frames longer than buf are truncated.
	Read(ctx context.Context, buf []byte) (int, error)

	// Kind returns the bus type.
	Kind() BusKind
}

// FirmwareLoader downloads firmware to the chip.
type FirmwareLoader interface {
	// Download transfers image and waits for the chip to accept it.
	Download(ctx context.Context, image []byte) error
}

// PowerController changes the chip power state.
type PowerController interface {
	// SetState moves the chip to state.
	SetState(ctx context.Context, state PowerState) error

	// State returns the current power state.
	State() PowerState
}
