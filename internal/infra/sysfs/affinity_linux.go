//go:build linux

package sysfs

import (
	"golang.org/x/sys/unix"

	"github.com/power-mode/power-mode/internal/domain"
)

// maxAffinityCPUs bounds the scan over the affinity mask.
const maxAffinityCPUs = 1024

// processAffinity returns the CPUs the scheduler may run this process on.
func processAffinity() (domain.CoreSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var ids []int
	for i := 0; i < maxAffinityCPUs && len(ids) < set.Count(); i++ {
		if set.IsSet(i) {
			ids = append(ids, i)
		}
	}
	return domain.NewCoreSet(ids...), nil
}
