// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins current OS thread to a given logical CPU/core on supported platforms.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// LockToCPU wires the calling goroutine to its OS thread and pins that thread
// to the slot-th CPU (modulo the count) of the thread's affinity mask. The
// goroutine must exit without unlocking so the runtime retires the pinned
// thread instead of returning it to the scheduler.
func LockToCPU(slot int) error {
	runtime.LockOSThread()
	cpuID, err := allowedCPU(slot)
	if err == nil {
		err = setAffinityPlatform(cpuID)
	}
	if err != nil {
		runtime.UnlockOSThread()
	}
	return err
}
