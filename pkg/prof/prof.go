//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/pkg"
)

// Profiling errors.
var (
	ErrCPUProfileActive = errors.New("cpu profile already active")
	ErrInvalidProfile   = errors.New("invalid profile")
)

var (
	cpuMutex sync.Mutex
	cpuFile  *os.File
)

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return true }

// StartCPU starts CPU profiling into the file at path.
// Returns [ErrCPUProfileActive] if CPU profiling is already active.
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile != nil {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		return multierr.Append(err, f.Close())
	}
	cpuFile = f
	pkg.LogInfo(pkg.ComponentCLI, "cpu profile started", "path", path)
	return nil
}

// StopCPU stops CPU profiling and closes the profile file. It is safe to call
// when profiling is not active.
func StopCPU() error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile == nil {
		return nil
	}
	rpprof.StopCPUProfile()
	err := cpuFile.Close()
	cpuFile = nil
	return err
}

// CPUActive reports whether CPU profiling is running.
func CPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuFile != nil
}

// Snapshot writes each named profile to dir/<name>.prof, creating dir if
// needed. With no profiles it writes every profile in [Snapshots]. Every
// profile is attempted; failures are combined.
func Snapshot(dir string, profiles ...Profile) error {
	if len(profiles) == 0 {
		profiles = Snapshots()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var err error
	for _, p := range profiles {
		err = multierr.Append(err, writeFile(p, filepath.Join(dir, p.String()+".prof")))
	}
	return err
}

func writeFile(p Profile, path string) (err error) {
	if p == ProfileCPU {
		return fmt.Errorf("%w: %s needs StartCPU", ErrInvalidProfile, p)
	}
	lp := rpprof.Lookup(string(p))
	if lp == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, p)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return lp.WriteTo(f, 0)
}

// SetContention enables block and mutex profiling at rate. Zero disables
// both.
func SetContention(rate int) {
	runtime.SetBlockProfileRate(rate)
	runtime.SetMutexProfileFraction(rate)
}

// Register mounts the pprof handlers under /debug/pprof/ on mux.
func Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
