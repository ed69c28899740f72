//go:build !linux

package topology

import (
	"runtime"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// allowedCPUs degrades to runtime.NumCPU on platforms without
// sched_getaffinity; the snapshot engine is Linux-oriented (it
// ultimately pins against /proc-observed processes), but topology
// detection itself stays buildable everywhere.
func allowedCPUs() ([]ids.CpuId, error) {
	n := runtime.NumCPU()
	cpus := make([]ids.CpuId, n)
	for i := 0; i < n; i++ {
		cpus[i] = ids.CpuId(i)
	}
	return cpus, nil
}
