// Package pkg provides shared utilities for the softwlan control plane.
//
// This package contains common functionality used by the scheduler, the
// system module and the driver adaptation layer, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the scheduler error taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSched, "scheduler opened", "capacity", 512)
//
// # Errors
//
// Errors are sentinel values, wrapped with context where they are returned:
//
//	if errors.Is(err, pkg.ErrResourceExhausted) {
//	    // shed load or retry
//	}
package pkg
