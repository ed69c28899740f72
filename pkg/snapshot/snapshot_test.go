package snapshot

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"testing/quick"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/ruben-laso/syssnap/pkg/ids"
	"github.com/ruben-laso/syssnap/pkg/process"
	"github.com/ruben-laso/syssnap/pkg/topology"
)

// twoNodeTopology builds the 4-CPU, 2-node fixture used throughout
// spec scenario S2: CPUs 0,1 on node 0; CPUs 2,3 on node 1.
func twoNodeTopology(t *testing.T) *topology.Topology {
	t.Helper()
	base := t.TempDir()
	writeNode(t, base, 0, "0-1", "10 20")
	writeNode(t, base, 1, "2-3", "20 10")
	topo, err := topology.FromFixture(base, []ids.CpuId{0, 1, 2, 3})
	require.NoError(t, err)
	return topo
}

func writeNode(t *testing.T, base string, node int, cpulist, distance string) {
	t.Helper()
	dir := filepath.Join(base, "node"+strconv.Itoa(node))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpulist"), []byte(cpulist+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "distance"), []byte(distance+"\n"), 0o644))
}

func s2Records() []process.Record {
	return []process.Record{
		{PID: 100, TID: 100, Processor: 0, NUMANode: 0, CPUUse: 20},
		{PID: 101, TID: 101, Processor: 0, NUMANode: 0, CPUUse: 30},
	}
}

func newS2Snapshot(t *testing.T) (*Snapshot, *process.FakeSource) {
	t.Helper()
	topo := twoNodeTopology(t)
	src := process.NewFakeSource(s2Records()...)
	snap, err := New(topo, src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return snap, src
}

func TestRebuildRoundTrip(t *testing.T) {
	snap, _ := newS2Snapshot(t)

	for _, pid := range []ids.Pid{100, 101} {
		cpu, err := snap.Processor(pid)
		require.NoError(t, err)
		require.Contains(t, snap.PidsInCPU(cpu), pid)

		node, err := snap.NUMANode(pid)
		require.NoError(t, err)
		require.Contains(t, snap.PidsInNode(node), pid)

		ocpu, err := snap.OriginalProcessor(pid)
		require.NoError(t, err)
		require.Contains(t, snap.OriginalPidsInCPU(ocpu), pid)
	}
}

func TestAggregateConsistency(t *testing.T) {
	snap, _ := newS2Snapshot(t)
	require.InDelta(t, float32(50), snap.CPUUse(0), 1e-5)
	require.InDelta(t, float32(50), snap.NodeUse(0), 1e-5)
	require.InDelta(t, float32(0), snap.CPUUse(2), 1e-5)
}

func TestMigrationLocality(t *testing.T) {
	snap, _ := newS2Snapshot(t)

	require.NoError(t, snap.MigrateToCPU(100, 3))

	cpu, err := snap.Processor(100)
	require.NoError(t, err)
	require.Equal(t, ids.CpuId(3), cpu)

	node, err := snap.NUMANode(100)
	require.NoError(t, err)
	require.Equal(t, ids.NodeId(1), node)

	require.Contains(t, snap.PidsInCPU(3), ids.Pid(100))
	require.NotContains(t, snap.PidsInCPU(0), ids.Pid(100))

	original, err := snap.OriginalProcessor(100)
	require.NoError(t, err)
	require.Equal(t, ids.CpuId(0), original)
}

func TestRollbackIdempotence(t *testing.T) {
	snap, _ := newS2Snapshot(t)
	require.NoError(t, snap.MigrateToCPU(100, 3))
	require.True(t, snap.IsDirty())

	snap.Rollback()

	require.False(t, snap.IsDirty())
	require.Equal(t, Clean, snap.State())

	cpu, err := snap.Processor(100)
	require.NoError(t, err)
	ocpu, err := snap.OriginalProcessor(100)
	require.NoError(t, err)
	require.Equal(t, ocpu, cpu)
	require.ElementsMatch(t, snap.PidsInCPU(0), snap.OriginalPidsInCPU(0))
}

func TestCommitRoundTrip(t *testing.T) {
	snap, src := newS2Snapshot(t)

	require.NoError(t, snap.MigrateToCPU(100, 3))
	require.NoError(t, snap.Commit())

	require.False(t, snap.IsDirty())
	require.Contains(t, src.Pins(), process.PinCall{Pid: 100, CPU: 3})

	original, err := snap.OriginalProcessor(100)
	require.NoError(t, err)
	require.Equal(t, ids.CpuId(3), original)
}

func TestCommitPartialFailure(t *testing.T) {
	topo := twoNodeTopology(t)
	src := process.NewFakeSource(s2Records()...)
	errPinRefused := errors.New("pin refused")
	src.SetPinToCPUError(func(pid ids.Pid, cpu ids.CpuId) error {
		if pid == 101 {
			return errPinRefused
		}
		return nil
	})

	snap, err := New(topo, src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.NoError(t, snap.MigrateToCPU(100, 3))
	require.NoError(t, snap.MigrateToCPU(101, 2))

	err = snap.Commit()
	require.Error(t, err)

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	require.Equal(t, ids.Pid(101), commitErr.Pid)
	require.Equal(t, CommitKindCPU, commitErr.Kind)

	// 100 committed successfully and was dropped; 101 remains pending.
	require.True(t, snap.IsDirty())
	require.Equal(t, Staged, snap.State())
}

func TestUpdateRefusesWhenDirty(t *testing.T) {
	snap, _ := newS2Snapshot(t)
	require.NoError(t, snap.MigrateToCPU(100, 3))

	err := snap.Update()
	require.ErrorIs(t, err, ErrDirtyUpdate)
}

func TestLoadBounds(t *testing.T) {
	snap, _ := newS2Snapshot(t)

	for _, pid := range []ids.Pid{100, 101} {
		l, err := snap.LoadOf(pid)
		require.NoError(t, err)
		require.GreaterOrEqual(t, l, float32(0))
		require.LessOrEqual(t, l, float32(1))
	}

	require.LessOrEqual(t, snap.LoadOfCPU(0), float32(len(snap.OriginalPidsInCPU(0))))
}

func TestUnknownPidErrors(t *testing.T) {
	snap, _ := newS2Snapshot(t)

	_, err := snap.Processor(999)
	require.ErrorIs(t, err, ErrUnknownPid)

	err = snap.MigrateToCPU(999, 0)
	require.ErrorIs(t, err, ErrUnknownPid)
}

func TestMigrateToNodeEmptyNode(t *testing.T) {
	base := t.TempDir()
	writeNode(t, base, 0, "0-1", "10 20")
	writeNode(t, base, 1, "", "20 10")
	topo, err := topology.FromFixture(base, []ids.CpuId{0, 1})
	require.NoError(t, err)

	src := process.NewFakeSource(process.Record{PID: 100, Processor: 0, NUMANode: 0, CPUUse: 10})
	snap, err := New(topo, src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	err = snap.MigrateToNode(100, 1)
	require.ErrorIs(t, err, ErrEmptyNode)
}

// TestRebuildRoundTripProperty exercises invariant 1 with randomized
// record sets over a fixed 4-CPU/2-node topology, in place of a
// property-testing library the retrieval pack doesn't supply.
func TestRebuildRoundTripProperty(t *testing.T) {
	topo := twoNodeTopology(t)

	f := func(seed int64, n uint8) bool {
		count := int(n%8) + 1
		r := rand.New(rand.NewSource(seed))
		records := make([]process.Record, count)
		for i := 0; i < count; i++ {
			cpu := ids.CpuId(r.Intn(4))
			node, err := topo.NodeFromCPU(cpu)
			if err != nil {
				return false
			}
			records[i] = process.Record{
				PID:       ids.Pid(1000 + i),
				TID:       ids.Pid(1000 + i),
				Processor: cpu,
				NUMANode:  node,
				CPUUse:    float32(r.Intn(50)),
			}
		}

		src := process.NewFakeSource(records...)
		snap, err := New(topo, src, r)
		if err != nil {
			return false
		}

		for _, rec := range records {
			cpu, err := snap.OriginalProcessor(rec.PID)
			if err != nil || cpu != rec.Processor {
				return false
			}
			if !containsPid(snap.OriginalPidsInCPU(cpu), rec.PID) {
				return false
			}
			node, err := snap.OriginalNUMANode(rec.PID)
			if err != nil || node != rec.NUMANode {
				return false
			}
			if !containsPid(snap.OriginalPidsInNode(node), rec.PID) {
				return false
			}
		}
		return true
	}

	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 200}))
}

func containsPid(pids []ids.Pid, target ids.Pid) bool {
	for _, p := range pids {
		if p == target {
			return true
		}
	}
	return false
}
