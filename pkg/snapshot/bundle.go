package snapshot

import "github.com/ruben-laso/syssnap/pkg/ids"

// bundle is one half of a Snapshot's parallel clean/dirty state: the
// six mutually-consistent indices derived from a set of process
// records. A Snapshot holds two bundles and copies one into the other
// on rebuild and rollback.
type bundle struct {
	cpuPIDs  map[ids.CpuId]map[ids.Pid]struct{}
	nodePIDs map[ids.NodeId]map[ids.Pid]struct{}
	pidCPU   map[ids.Pid]ids.CpuId
	pidNode  map[ids.Pid]ids.NodeId
	cpuUse   map[ids.CpuId]float32
	nodeUse  map[ids.NodeId]float32
}

func newBundle() *bundle {
	return &bundle{
		cpuPIDs:  make(map[ids.CpuId]map[ids.Pid]struct{}),
		nodePIDs: make(map[ids.NodeId]map[ids.Pid]struct{}),
		pidCPU:   make(map[ids.Pid]ids.CpuId),
		pidNode:  make(map[ids.Pid]ids.NodeId),
		cpuUse:   make(map[ids.CpuId]float32),
		nodeUse:  make(map[ids.NodeId]float32),
	}
}

// clone returns a deep copy, so mutating the result never affects b.
func (b *bundle) clone() *bundle {
	out := newBundle()
	for cpu, set := range b.cpuPIDs {
		s := make(map[ids.Pid]struct{}, len(set))
		for pid := range set {
			s[pid] = struct{}{}
		}
		out.cpuPIDs[cpu] = s
	}
	for node, set := range b.nodePIDs {
		s := make(map[ids.Pid]struct{}, len(set))
		for pid := range set {
			s[pid] = struct{}{}
		}
		out.nodePIDs[node] = s
	}
	for pid, cpu := range b.pidCPU {
		out.pidCPU[pid] = cpu
	}
	for pid, node := range b.pidNode {
		out.pidNode[pid] = node
	}
	for cpu, u := range b.cpuUse {
		out.cpuUse[cpu] = u
	}
	for node, u := range b.nodeUse {
		out.nodeUse[node] = u
	}
	return out
}

// insert records pid as running on cpu/node with the given CPU-use
// percent, updating every index in lockstep.
func (b *bundle) insert(pid ids.Pid, cpu ids.CpuId, node ids.NodeId, use float32) {
	if b.cpuPIDs[cpu] == nil {
		b.cpuPIDs[cpu] = make(map[ids.Pid]struct{})
	}
	b.cpuPIDs[cpu][pid] = struct{}{}

	if b.nodePIDs[node] == nil {
		b.nodePIDs[node] = make(map[ids.Pid]struct{})
	}
	b.nodePIDs[node][pid] = struct{}{}

	b.pidCPU[pid] = cpu
	b.pidNode[pid] = node
	b.cpuUse[cpu] += use
	b.nodeUse[node] += use
}

// remove is insert's inverse: it withdraws pid from cpu/node and
// subtracts use from the aggregates. It does not touch pidCPU/pidNode
// — callers overwrite those immediately via a following insert.
func (b *bundle) remove(pid ids.Pid, cpu ids.CpuId, node ids.NodeId, use float32) {
	delete(b.cpuPIDs[cpu], pid)
	delete(b.nodePIDs[node], pid)
	b.cpuUse[cpu] -= use
	b.nodeUse[node] -= use
}

func (b *bundle) pidsInCPU(cpu ids.CpuId) []ids.Pid {
	set := b.cpuPIDs[cpu]
	out := make([]ids.Pid, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}

func (b *bundle) pidsInNode(node ids.NodeId) []ids.Pid {
	set := b.nodePIDs[node]
	out := make([]ids.Pid, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}
