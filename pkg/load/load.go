// Package load implements the per-CPU, per-PID load estimator: a
// sigmoid blend of "usage against the CPU's free capacity" and "usage
// against the CPU's dominant consumer", so a single number stays
// meaningful whether a CPU is mostly idle or fully saturated.
package load

import (
	"math"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// beta is the sigmoid's steepness exponent.
const beta = 3.0

// epsilon guards the sigmoid's endpoints: the power-of-ratio used in
// weight diverges exactly at x=0 and x=1, so those are special-cased.
const epsilon = float32(1e-7)

// weight is the S-shaped blend function on [0,1].
func weight(x float32) float32 {
	if x < epsilon {
		return 0
	}
	if x > 1-epsilon {
		return 1
	}
	ratio := float64(x / (1 - x))
	return float32(1.0 / (1.0 + math.Pow(ratio, -beta)))
}

// weightTable holds weight(i/100) for i in [0,100], precomputed once
// and shared immutably.
var weightTable = func() [101]float32 {
	var table [101]float32
	for i := range table {
		table[i] = weight(float32(i) / 100.0)
	}
	return table
}()

// clamp01 restricts v to [0,1].
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ratio computes min(1, numerator/slice); a zero slice yields 0 for
// any numerator (so 0/0 = 0).
func ratio(numerator, slice float32) float32 {
	if slice == 0 {
		return 0
	}
	v := numerator / slice
	if v > 1 {
		return 1
	}
	return v
}

// ForCPU computes the per-PID load for every PID in usage, a map from
// Pid to CPU-use percent in [0,100], for a single CPU. It is a pure
// function: it reads only its argument and the precomputed weight
// table. An empty usage map yields an empty result (the spec leaves
// max_u undefined on an empty CPU; callers should simply skip CPUs
// with no PIDs rather than invoke ForCPU on one).
func ForCPU(usage map[ids.Pid]float32) map[ids.Pid]float32 {
	result := make(map[ids.Pid]float32, len(usage))
	if len(usage) == 0 {
		return result
	}

	var sum, max float32
	for _, u := range usage {
		sum += u
		if u > max {
			max = u
		}
	}

	free := clamp01((100 - sum) / 100)
	freeIndex := int(math.Round(float64(free) * 100))
	if freeIndex < 0 {
		freeIndex = 0
	}
	if freeIndex > 100 {
		freeIndex = 100
	}

	alpha := weightTable[freeIndex]
	oneMinusAlpha := 1 - alpha

	freePercent := free * 100

	for pid, u := range usage {
		vsFree := ratio(u, freePercent)
		vsMax := ratio(u, max)
		result[pid] = clamp01(alpha*vsFree + oneMinusAlpha*vsMax)
	}

	return result
}
