//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinityPlatform sets the calling thread's affinity to cpuID.
func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: invalid cpu %d", cpuID)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// pid 0 addresses the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

// allowedCPU returns the slot-th CPU of the calling thread's affinity mask.
func allowedCPU(slot int) (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	n := set.Count()
	if n == 0 {
		return 0, fmt.Errorf("affinity: empty cpu mask")
	}
	if slot < 0 {
		slot = -slot
	}
	slot %= n
	for cpu := 0; ; cpu++ {
		if set.IsSet(cpu) {
			if slot == 0 {
				return cpu, nil
			}
			slot--
		}
	}
}
