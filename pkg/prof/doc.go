// Package prof wraps [runtime/pprof] for wlanctl.
//
// It is conditionally compiled using the "profile" build tag:
//
//	go build -tags profile ./cmd/wlanctl
//
// Without the tag every function is a no-op and [Enabled] reports false, so
// call sites stay in place at no cost.
//
// # CPU Profiling
//
//	if err := prof.StartCPU("cpu.prof"); err != nil {
//	    return err
//	}
//	defer prof.StopCPU()
//
// # Snapshots
//
// [Snapshot] writes point-in-time profiles into a directory, one file per
// profile:
//
//	prof.SetContention(1)
//	...
//	prof.Snapshot("profiles", prof.ProfileHeap, prof.ProfileMutex)
//
// # HTTP
//
// [Register] mounts the /debug/pprof/ handlers on a mux; wlanctl serves them
// next to /metrics. Nothing listens unless the caller starts a server.
package prof
