package snapshot

import (
	"github.com/cockroachdb/errors"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// MigrateToCPU stages pid to run on cpu: it updates the dirty indices
// immediately and records the intent in the pending-CPU map for
// Commit. It never touches clean state or the kernel. Calling it
// again with the same or a different CPU is safe — the "old" location
// is always read back from dirty state, so a repeated call withdraws
// exactly what the previous call added.
func (s *Snapshot) MigrateToCPU(pid ids.Pid, cpu ids.CpuId) error {
	oldCPU, ok := s.dirty.pidCPU[pid]
	if !ok {
		return errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}

	newNode, err := s.topo.NodeFromCPU(cpu)
	if err != nil {
		return err
	}
	oldNode := s.dirty.pidNode[pid]
	use := s.source.CPUUse(pid)

	s.dirty.remove(pid, oldCPU, oldNode, use)
	s.dirty.insert(pid, cpu, newNode, use)

	s.pendingCPU[pid] = cpu
	delete(s.pendingNode, pid)
	return nil
}

// MigrateToNode stages pid to run somewhere on node, picking one of
// node's CPUs uniformly at random via the Snapshot's injected rng so
// dirty state has a concrete, queryable processor for pid. The
// pending intent is recorded against the node, not the chosen CPU:
// Commit calls PinToNode, letting the kernel pick any CPU on the
// node rather than binding to the one dirty state happens to show.
func (s *Snapshot) MigrateToNode(pid ids.Pid, node ids.NodeId) error {
	if _, ok := s.dirty.pidCPU[pid]; !ok {
		return errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}

	cpus, err := s.topo.CPUsFromNode(node)
	if err != nil {
		return err
	}
	if len(cpus) == 0 {
		return errors.Wrapf(ErrEmptyNode, "node %d", node)
	}
	cpu := cpus[s.rng.Intn(len(cpus))]

	oldCPU := s.dirty.pidCPU[pid]
	oldNode := s.dirty.pidNode[pid]
	use := s.source.CPUUse(pid)

	s.dirty.remove(pid, oldCPU, oldNode, use)
	s.dirty.insert(pid, cpu, node, use)

	s.pendingNode[pid] = node
	delete(s.pendingCPU, pid)
	return nil
}

// Unpin restores pid's full allowed CPU set immediately, through the
// process source. It is not staged: it takes effect at once, and the
// next Update reflects the kernel's new affinity.
func (s *Snapshot) Unpin(pid ids.Pid) error {
	return s.source.Unpin(pid)
}

// UnpinAll restores the full allowed CPU set for every known task,
// immediately.
func (s *Snapshot) UnpinAll() error {
	return s.source.UnpinAll()
}
