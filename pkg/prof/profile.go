package prof

// Profile names a pprof profile.
type Profile string

// Profiles.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// String returns the profile name.
func (p Profile) String() string {
	return string(p)
}

// Snapshots lists the profiles [Snapshot] can write.
func Snapshots() []Profile {
	return []Profile{ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileThreadCreate, ProfileBlock, ProfileMutex}
}
