// Package snapshot implements the transactional core: an in-memory,
// point-in-time view of the process tree layered over a Topology,
// with a staged-migration mechanism that lets a caller propose
// pin/unpin operations, inspect their projected effect, and either
// commit them to the kernel or discard them.
//
// A Snapshot is not safe for concurrent mutation. It assumes a single
// owner goroutine; concurrent read-only queries are safe only if the
// caller does not interleave them with a mutating call.
package snapshot

import (
	"math/rand"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/ruben-laso/syssnap/pkg/ids"
	"github.com/ruben-laso/syssnap/pkg/load"
	"github.com/ruben-laso/syssnap/pkg/process"
	"github.com/ruben-laso/syssnap/pkg/topology"
)

// State is the snapshot's coarse lifecycle state, derived from
// whether any migration is pending.
type State int

const (
	Clean State = iota
	Staged
)

func (s State) String() string {
	if s == Staged {
		return "staged"
	}
	return "clean"
}

// Snapshot couples a Topology with a process.Source and derives two
// parallel index bundles from it: clean (last observed) and dirty
// (clean plus any staged migrations).
type Snapshot struct {
	topo   *topology.Topology
	source process.Source
	rng    *rand.Rand

	clean *bundle
	dirty *bundle

	pendingCPU  map[ids.Pid]ids.CpuId
	pendingNode map[ids.Pid]ids.NodeId

	pidLoad map[ids.Pid]float32
}

// New constructs a Snapshot: it triggers source's initial scrape and
// runs the first rebuild. rng drives MigrateToNode's CPU selection; a
// nil rng defaults to a randomly seeded math/rand source (callers wanting
// deterministic tests should inject their own seeded *rand.Rand).
func New(topo *topology.Topology, source process.Source, rng *rand.Rand) (*Snapshot, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	s := &Snapshot{
		topo:        topo,
		source:      source,
		rng:         rng,
		pendingCPU:  make(map[ids.Pid]ids.CpuId),
		pendingNode: make(map[ids.Pid]ids.NodeId),
	}

	if err := source.Update(); err != nil {
		return nil, errors.Wrap(err, "initial process scrape")
	}
	s.rebuild()

	return s, nil
}

// rebuild recomputes the clean bundle from the source's current
// records, mirrors it into dirty, recomputes per-PID loads, and
// clears the pending migration maps. It is only ever invoked from
// Update (on an already-clean snapshot) and from the success path of
// Commit (which has just drained pending itself) — but it clears
// pending unconditionally regardless, so no call path can leave a
// dirty flag pointing at indices rebuild just discarded.
func (s *Snapshot) rebuild() {
	clean := newBundle()
	perCPUUsage := make(map[ids.CpuId]map[ids.Pid]float32)

	for _, r := range s.source.Iter() {
		clean.insert(r.PID, r.Processor, r.NUMANode, r.CPUUse)

		usage := perCPUUsage[r.Processor]
		if usage == nil {
			usage = make(map[ids.Pid]float32)
			perCPUUsage[r.Processor] = usage
		}
		usage[r.PID] = r.CPUUse
	}

	s.clean = clean
	s.dirty = clean.clone()
	s.pendingCPU = make(map[ids.Pid]ids.CpuId)
	s.pendingNode = make(map[ids.Pid]ids.NodeId)

	pidLoad := make(map[ids.Pid]float32)
	for _, usage := range perCPUUsage {
		for pid, l := range load.ForCPU(usage) {
			pidLoad[pid] = l
		}
	}
	s.pidLoad = pidLoad
}

// IsDirty reports whether any migration is staged but not yet
// committed.
func (s *Snapshot) IsDirty() bool {
	return len(s.pendingCPU) > 0 || len(s.pendingNode) > 0
}

// State returns the snapshot's current lifecycle state.
func (s *Snapshot) State() State {
	if s.IsDirty() {
		return Staged
	}
	return Clean
}

// Update refreshes clean state from the source and rebuilds. It
// refuses to run on a staged snapshot — refreshing would silently
// discard pending migrations no caller asked to drop; Commit or
// Rollback first.
func (s *Snapshot) Update() error {
	if s.IsDirty() {
		return ErrDirtyUpdate
	}
	if err := s.source.Update(); err != nil {
		return errors.Wrap(err, "refreshing process source")
	}
	s.rebuild()
	return nil
}

// Commit applies every pending migration to the kernel through
// source, CPU pins before node pins, ascending pid within each group.
// It is a no-op if nothing is pending. A pinning failure aborts the
// remaining operations and is returned as *CommitError; entries that
// committed successfully before the failure are dropped from the
// pending maps, so a caller inspecting IsDirty afterwards sees only
// the work still left to retry or roll back. On full success, pending
// is already empty and Commit re-syncs by calling Update.
func (s *Snapshot) Commit() error {
	if !s.IsDirty() {
		return nil
	}

	cpuPids := sortedPids(s.pendingCPU)
	for _, pid := range cpuPids {
		cpu := s.pendingCPU[pid]
		if err := s.source.PinToCPU(pid, cpu); err != nil {
			return &CommitError{Pid: pid, Kind: CommitKindCPU, Err: err}
		}
		delete(s.pendingCPU, pid)
	}

	nodePids := sortedPids(s.pendingNode)
	for _, pid := range nodePids {
		node := s.pendingNode[pid]
		if err := s.source.PinToNode(pid, node); err != nil {
			return &CommitError{Pid: pid, Kind: CommitKindNode, Err: err}
		}
		delete(s.pendingNode, pid)
	}

	if err := s.source.Update(); err != nil {
		return errors.Wrap(err, "post-commit refresh")
	}
	s.rebuild()
	return nil
}

// Rollback discards every pending migration and reverts dirty state
// to clean.
func (s *Snapshot) Rollback() {
	s.pendingCPU = make(map[ids.Pid]ids.CpuId)
	s.pendingNode = make(map[ids.Pid]ids.NodeId)
	s.dirty = s.clean.clone()
}

func sortedPids[V any](m map[ids.Pid]V) []ids.Pid {
	out := make([]ids.Pid, 0, len(m))
	for pid := range m {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
