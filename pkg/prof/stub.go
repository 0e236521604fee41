//go:build !profile

package prof

import "net/http"

// Profiling errors, never returned by the stubs.
var (
	ErrCPUProfileActive error
	ErrInvalidProfile   error
)

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return false }

// StartCPU is a no-op when built without the "profile" tag.
func StartCPU(_ string) error { return nil }

// StopCPU is a no-op when built without the "profile" tag.
func StopCPU() error { return nil }

// CPUActive always returns false when built without the "profile" tag.
func CPUActive() bool { return false }

// Snapshot is a no-op when built without the "profile" tag.
func Snapshot(_ string, _ ...Profile) error { return nil }

// SetContention is a no-op when built without the "profile" tag.
func SetContention(_ int) {}

// Register is a no-op when built without the "profile" tag.
func Register(_ *http.ServeMux) {}
