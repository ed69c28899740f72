// Package process defines the ProcessSource capability the snapshot
// engine consumes: an opaque, refreshable collection of per-task
// records together with the pinning operations the kernel exposes.
// The snapshot engine itself never reaches into /proc or issues
// affinity syscalls directly — it only ever talks to a Source.
package process

import "github.com/ruben-laso/syssnap/pkg/ids"

// Record is a single observed task (process or thread; the engine
// treats both uniformly). Records are owned by a Source and are
// read-only from the caller's perspective.
type Record struct {
	// PID is the process id (the task group leader).
	PID ids.Pid
	// TID is the thread id. For a process's main thread, TID == PID.
	TID ids.Pid
	// Processor is the CPU this task last ran on.
	Processor ids.CpuId
	// NUMANode is the NUMA node Processor belongs to.
	NUMANode ids.NodeId
	// CPUUse is this task's CPU utilization in [0,100].
	CPUUse float32
	// Cmdline is the task's command line, joined with spaces.
	Cmdline string
	// Children is the set of this task's direct child PIDs and
	// sibling task TIDs, as reported by the kernel.
	Children []ids.Pid
}

// ChildrenAndTasks returns this record's children and sibling tasks.
func (r Record) ChildrenAndTasks() []ids.Pid { return r.Children }

// Source is the ProcessSource capability: a refreshable collection of
// task records plus the CPU/NUMA pinning operations the kernel
// exposes. Implementations are expected to be scraped lazily (no
// background goroutine) — Update is the only point at which a Source
// may block on I/O.
type Source interface {
	// Update re-scans all live tasks.
	Update() error
	// Iter returns the current records. Order is unspecified.
	Iter() []Record
	// Get returns the record for pid, if present.
	Get(pid ids.Pid) (Record, bool)
	// CPUUse returns pid's CPU-use percent, or 0 if pid is absent.
	CPUUse(pid ids.Pid) float32
	// PinToCPU restricts pid to run only on cpu.
	PinToCPU(pid ids.Pid, cpu ids.CpuId) error
	// PinToNode restricts pid to run only on node's CPUs, letting the
	// kernel choose among them.
	PinToNode(pid ids.Pid, node ids.NodeId) error
	// Unpin restores pid's full allowed CPU set.
	Unpin(pid ids.Pid) error
	// UnpinAll restores the full allowed CPU set for every known task.
	UnpinAll() error
}
