// Package ids defines the identifier types shared across the snapshot
// engine: CPU ids, NUMA node ids, and process/thread ids. Keeping them
// as distinct types (rather than passing bare ints across package
// boundaries) prevents a CPU id from being mistaken for a node id or a
// pid, and centralizes the one bounds check every id needs before it
// can be used to index a slice.
package ids

import "github.com/cockroachdb/errors"

// CpuId identifies a logical CPU as seen by the kernel scheduler.
type CpuId int

// NodeId identifies a NUMA node.
type NodeId int

// Pid identifies a process or thread. The snapshot engine treats both
// uniformly, per the source's "Pid/Tid" convention.
type Pid int

// ErrIndexOutOfRange is returned by Index when given a negative id.
var ErrIndexOutOfRange = errors.New("index must be greater than or equal to zero")

// Index converts a signed id to a non-negative slice index, failing
// with ErrIndexOutOfRange on negative input. This is the one place
// a CpuId/NodeId/Pid is allowed to become a bare int for indexing.
func Index(i int) (int, error) {
	if i < 0 {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "got %d", i)
	}
	return i, nil
}

// CpuIndex is Index for a CpuId.
func CpuIndex(c CpuId) (int, error) { return Index(int(c)) }

// NodeIndex is Index for a NodeId.
func NodeIndex(n NodeId) (int, error) { return Index(int(n)) }
