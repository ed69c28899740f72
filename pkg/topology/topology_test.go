package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

func fixedCPUs(cpus ...ids.CpuId) allowedCPUsFunc {
	return func() ([]ids.CpuId, error) { return cpus, nil }
}

func writeNode(t *testing.T, base string, node int, cpulist, distance string) {
	t.Helper()
	dir := filepath.Join(base, "node"+strconv.Itoa(node))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpulist"), []byte(cpulist+"\n"), 0o644))
	if distance != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "distance"), []byte(distance+"\n"), 0o644))
	}
}

func TestBuild_UMAFallback_MissingDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "does-not-exist")

	topo, err := build(base, fixedCPUs(0, 1, 2, 3))
	require.NoError(t, err)

	require.Equal(t, []ids.NodeId{0}, topo.AllowedNodes())
	require.Equal(t, []ids.CpuId{0, 1, 2, 3}, topo.AllowedCPUs())

	cpus, err := topo.CPUsFromNode(0)
	require.NoError(t, err)
	require.Equal(t, []ids.CpuId{0, 1, 2, 3}, cpus)

	order, err := topo.NodesByDistance(0)
	require.NoError(t, err)
	require.Equal(t, []ids.NodeId{0}, order)
}

func TestBuild_UMAFallback_NoNodeDirs(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "online"), []byte("0\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "power"), 0o755))

	topo, err := build(base, fixedCPUs(0, 1))
	require.NoError(t, err)
	require.Equal(t, []ids.NodeId{0}, topo.AllowedNodes())
}

func TestBuild_NUMA_TwoNodes(t *testing.T) {
	base := t.TempDir()
	writeNode(t, base, 0, "0-1", "10 20")
	writeNode(t, base, 1, "2-3", "20 10")

	topo, err := build(base, fixedCPUs(0, 1, 2, 3))
	require.NoError(t, err)

	require.Equal(t, []ids.NodeId{0, 1}, topo.AllowedNodes())

	cpus0, err := topo.CPUsFromNode(0)
	require.NoError(t, err)
	require.Equal(t, []ids.CpuId{0, 1}, cpus0)

	cpus1, err := topo.CPUsFromNode(1)
	require.NoError(t, err)
	require.Equal(t, []ids.CpuId{2, 3}, cpus1)

	node, err := topo.NodeFromCPU(2)
	require.NoError(t, err)
	require.Equal(t, ids.NodeId(1), node)

	order0, err := topo.NodesByDistance(0)
	require.NoError(t, err)
	require.Equal(t, []ids.NodeId{0, 1}, order0)

	d, err := topo.NodeDistance(0, 1)
	require.NoError(t, err)
	require.Equal(t, 20, d)

	require.Equal(t, ids.CpuId(3), topo.MaxCPU())
	require.Equal(t, ids.NodeId(1), topo.MaxNode())

	require.Equal(t, "0-3", topo.AllowedCPUSet().String())

	set1, err := topo.NodeCPUSet(1)
	require.NoError(t, err)
	require.Equal(t, "2-3", set1.String())

	_, err = topo.NodeCPUSet(7)
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestBuild_NUMA_DistanceTieBreak(t *testing.T) {
	base := t.TempDir()
	// Node 0 equidistant (20) from nodes 1 and 2: ties broken by ascending id.
	writeNode(t, base, 0, "0", "10 20 20")
	writeNode(t, base, 1, "1", "20 10 30")
	writeNode(t, base, 2, "2", "20 30 10")

	topo, err := build(base, fixedCPUs(0, 1, 2))
	require.NoError(t, err)

	order, err := topo.NodesByDistance(0)
	require.NoError(t, err)
	require.Equal(t, []ids.NodeId{0, 1, 2}, order)
}

func TestBuild_NUMA_FiltersDisallowedCPUs(t *testing.T) {
	base := t.TempDir()
	writeNode(t, base, 0, "0-3", "10")

	// Only CPUs 0 and 2 are allowed for this process.
	topo, err := build(base, fixedCPUs(0, 2))
	require.NoError(t, err)

	cpus, err := topo.CPUsFromNode(0)
	require.NoError(t, err)
	require.Equal(t, []ids.CpuId{0, 2}, cpus)
}

func TestBuild_NUMA_MissingDistanceFile(t *testing.T) {
	base := t.TempDir()
	writeNode(t, base, 0, "0-1", "")

	_, err := build(base, fixedCPUs(0, 1))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTopologyProbeFailed)
}

func TestBuild_NoAllowedCPUs(t *testing.T) {
	base := t.TempDir()
	_, err := build(base, fixedCPUs())
	require.Error(t, err)
}

func TestUnknownLookups(t *testing.T) {
	base := filepath.Join(t.TempDir(), "missing")
	topo, err := build(base, fixedCPUs(0))
	require.NoError(t, err)

	_, err = topo.CPUsFromNode(7)
	require.ErrorIs(t, err, ErrUnknownNode)

	_, err = topo.NodeFromCPU(99)
	require.ErrorIs(t, err, ErrUnknownCPU)

	_, err = topo.NodesByDistance(7)
	require.ErrorIs(t, err, ErrUnknownNode)

	_, err = topo.NodeDistance(0, 7)
	require.ErrorIs(t, err, ErrUnknownNode)
}
