//go:build linux

package topology

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// allowedCPUs asks the kernel for the calling process's current CPU
// affinity mask (pid 0 means "the calling thread"), the Go analogue
// of the C++ original's numa_all_cpus_ptr bitmask, without requiring
// cgo or libnuma.
func allowedCPUs() ([]ids.CpuId, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, errors.Wrap(err, "sched_getaffinity")
	}

	const maxProbedCPU = 4096 // generous upper bound; IsSet is false (not a panic) past the mask's real width

	cpus := make([]ids.CpuId, 0, set.Count())
	for cpu := 0; cpu < maxProbedCPU; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, ids.CpuId(cpu))
		}
	}
	return cpus, nil
}
