package snapshot

import (
	"github.com/cockroachdb/errors"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// Processor returns the CPU pid is currently staged to run on (dirty
// view — reflects any uncommitted migration).
func (s *Snapshot) Processor(pid ids.Pid) (ids.CpuId, error) {
	cpu, ok := s.dirty.pidCPU[pid]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}
	return cpu, nil
}

// NUMANode returns the NUMA node pid is currently staged on (dirty
// view).
func (s *Snapshot) NUMANode(pid ids.Pid) (ids.NodeId, error) {
	node, ok := s.dirty.pidNode[pid]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}
	return node, nil
}

// OriginalProcessor returns the CPU pid was last observed running on
// (clean view, ignoring any staged migration).
func (s *Snapshot) OriginalProcessor(pid ids.Pid) (ids.CpuId, error) {
	cpu, ok := s.clean.pidCPU[pid]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}
	return cpu, nil
}

// OriginalNUMANode returns the NUMA node pid was last observed on
// (clean view).
func (s *Snapshot) OriginalNUMANode(pid ids.Pid) (ids.NodeId, error) {
	node, ok := s.clean.pidNode[pid]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}
	return node, nil
}

// PidsInCPU returns the pids staged to run on cpu (dirty view). Order
// is unspecified.
func (s *Snapshot) PidsInCPU(cpu ids.CpuId) []ids.Pid { return s.dirty.pidsInCPU(cpu) }

// PidsInNode returns the pids staged to run on node (dirty view).
// Order is unspecified.
func (s *Snapshot) PidsInNode(node ids.NodeId) []ids.Pid { return s.dirty.pidsInNode(node) }

// OriginalPidsInCPU returns the pids last observed running on cpu
// (clean view).
func (s *Snapshot) OriginalPidsInCPU(cpu ids.CpuId) []ids.Pid { return s.clean.pidsInCPU(cpu) }

// OriginalPidsInNode returns the pids last observed on node (clean
// view).
func (s *Snapshot) OriginalPidsInNode(node ids.NodeId) []ids.Pid { return s.clean.pidsInNode(node) }

// CPUUse returns cpu's aggregate CPU-use percent, clean view. The
// dirty aggregate is not exposed here; see ProjectedCPUUse.
func (s *Snapshot) CPUUse(cpu ids.CpuId) float32 { return s.clean.cpuUse[cpu] }

// NodeUse returns node's aggregate CPU-use percent, clean view.
func (s *Snapshot) NodeUse(node ids.NodeId) float32 { return s.clean.nodeUse[node] }

// ProjectedCPUUse returns cpu's aggregate CPU-use percent including
// every staged migration (dirty view).
func (s *Snapshot) ProjectedCPUUse(cpu ids.CpuId) float32 { return s.dirty.cpuUse[cpu] }

// ProjectedNodeUse returns node's aggregate CPU-use percent including
// every staged migration (dirty view).
func (s *Snapshot) ProjectedNodeUse(node ids.NodeId) float32 { return s.dirty.nodeUse[node] }

// LoadOf returns pid's sigmoid-weighted load in [0,1]. Loads reflect
// clean (observed) state only: a migration that moves a pid onto a
// previously idle CPU does not change its load until the next Update.
func (s *Snapshot) LoadOf(pid ids.Pid) (float32, error) {
	l, ok := s.pidLoad[pid]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPid, "pid %d", pid)
	}
	return l, nil
}

// LoadOfCPU sums LoadOf over every pid clean state observed on cpu.
func (s *Snapshot) LoadOfCPU(cpu ids.CpuId) float32 {
	var sum float32
	for pid := range s.clean.cpuPIDs[cpu] {
		sum += s.pidLoad[pid]
	}
	return sum
}

// LoadOfNode sums LoadOf over every pid clean state observed on node.
func (s *Snapshot) LoadOfNode(node ids.NodeId) float32 {
	var sum float32
	for pid := range s.clean.nodePIDs[node] {
		sum += s.pidLoad[pid]
	}
	return sum
}

// LoadSystem sums LoadOf over every pid in clean state.
func (s *Snapshot) LoadSystem() float32 {
	var sum float32
	for _, l := range s.pidLoad {
		sum += l
	}
	return sum
}
