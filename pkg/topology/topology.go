// Package topology detects the host's NUMA/CPU topology: the CPUs and
// NUMA nodes the calling process is allowed to use, which CPUs belong
// to which node, and the pairwise NUMA distance between nodes. A
// Topology is built once and is immutable afterwards.
package topology

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"k8s.io/utils/cpuset"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// ErrUnknownCPU is returned by lookups given a CPU id outside the
// detected topology.
var ErrUnknownCPU = errors.New("unknown CPU")

// ErrUnknownNode is returned by lookups given a node id outside the
// detected topology.
var ErrUnknownNode = errors.New("unknown NUMA node")

// ErrTopologyProbeFailed wraps an OS-level failure while probing a
// NUMA node's CPU set or distance during construction.
var ErrTopologyProbeFailed = errors.New("NUMA topology probe failed")

// SysfsNodePath is the standard sysfs location for NUMA node
// information on Linux.
const SysfsNodePath = "/sys/devices/system/node"

// nodeDirRegexp matches directories named "nodeN" where N is a
// non-negative integer.
var nodeDirRegexp = regexp.MustCompile(`^node(\d+)$`)

// Topology describes the host's CPUs, NUMA nodes, and the spatial
// relationships among them. Immutable after construction.
type Topology struct {
	nodes []ids.NodeId
	cpus  []ids.CpuId

	cpuOfNode map[ids.NodeId][]ids.CpuId
	nodeOfCpu map[ids.CpuId]ids.NodeId

	distance        map[nodePair]int
	nodesByDistance map[ids.NodeId][]ids.NodeId

	maxCpu  ids.CpuId
	maxNode ids.NodeId
}

type nodePair struct {
	a, b ids.NodeId
}

// allowedCPUsFunc returns the CPUs the calling process is permitted to
// run on, ascending and deduplicated. It is a function value (rather
// than a direct syscall) so tests can substitute a fixed CPU list
// without depending on the real affinity mask of the test process.
type allowedCPUsFunc func() ([]ids.CpuId, error)

// New detects the real host topology: allowed CPUs via
// sched_getaffinity, NUMA nodes via sysfs, falling back to a
// synthetic single-node UMA topology if NUMA is unavailable.
func New() (*Topology, error) {
	return build(SysfsNodePath, allowedCPUs)
}

// FromFixture builds a Topology from an on-disk sysfs-shaped directory
// (as produced by a test's t.TempDir(), or a recorded fixture) and a
// fixed allowed-CPU list, bypassing sched_getaffinity. It exists so
// packages downstream of topology (snapshot, simulation tooling) can
// construct deterministic, non-host topologies the same way the
// package's own tests do.
func FromFixture(nodeDir string, allowedCPUs []ids.CpuId) (*Topology, error) {
	return build(nodeDir, func() ([]ids.CpuId, error) { return allowedCPUs, nil })
}

// build is the injectable core used by New and by tests, which supply
// a temporary sysfs directory and a fixed allowed-CPU list instead of
// touching the real host.
func build(nodeDir string, allowed allowedCPUsFunc) (*Topology, error) {
	cpus, err := allowed()
	if err != nil {
		return nil, errors.Wrap(err, "detecting allowed CPUs")
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })
	cpus = dedupCPUs(cpus)

	if len(cpus) == 0 {
		return nil, errors.New("no allowed CPUs detected")
	}

	entries, err := os.ReadDir(nodeDir)
	if err != nil || !hasNodeDirs(entries) {
		return buildUMA(cpus), nil
	}

	return buildNUMA(nodeDir, entries, cpus)
}

func hasNodeDirs(entries []os.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() && nodeDirRegexp.MatchString(e.Name()) {
			return true
		}
	}
	return false
}

func dedupCPUs(sorted []ids.CpuId) []ids.CpuId {
	out := sorted[:0:0]
	var prev ids.CpuId
	first := true
	for _, c := range sorted {
		if first || c != prev {
			out = append(out, c)
			prev = c
			first = false
		}
	}
	return out
}

// buildUMA constructs the synthetic single-node topology used when
// NUMA is unavailable: node 0 owns every allowed CPU, its distance
// ranking is just {0} (correcting the known quirk documented in the
// source, which listed a nonexistent node 1 there instead), and its
// self-distance is recorded as 0.
func buildUMA(cpus []ids.CpuId) *Topology {
	node := ids.NodeId(0)

	nodeOfCpu := make(map[ids.CpuId]ids.NodeId, len(cpus))
	for _, c := range cpus {
		nodeOfCpu[c] = node
	}

	t := &Topology{
		nodes:           []ids.NodeId{node},
		cpus:            cpus,
		cpuOfNode:       map[ids.NodeId][]ids.CpuId{node: cpus},
		nodeOfCpu:       nodeOfCpu,
		distance:        map[nodePair]int{{node, node}: 0},
		nodesByDistance: map[ids.NodeId][]ids.NodeId{node: {node}},
		maxNode:         node,
	}
	t.maxCpu = maxCpuId(cpus)
	return t
}

func buildNUMA(nodeDir string, entries []os.DirEntry, allowedCpus []ids.CpuId) (*Topology, error) {
	allowedSet := make(map[ids.CpuId]struct{}, len(allowedCpus))
	for _, c := range allowedCpus {
		allowedSet[c] = struct{}{}
	}

	var nodes []ids.NodeId
	cpuOfNode := make(map[ids.NodeId][]ids.CpuId)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := nodeDirRegexp.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1]) // regexp guarantees a valid non-negative integer
		node := ids.NodeId(id)

		cpus, err := readCpuList(filepath.Join(nodeDir, e.Name(), "cpulist"))
		if err != nil {
			return nil, errors.Wrapf(ErrTopologyProbeFailed, "node %d: %s", node, err)
		}

		filtered := make([]ids.CpuId, 0, len(cpus))
		for _, c := range cpus {
			if _, ok := allowedSet[c]; ok {
				filtered = append(filtered, c)
			}
		}

		nodes = append(nodes, node)
		cpuOfNode[node] = filtered
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	nodeOfCpu := make(map[ids.CpuId]ids.NodeId, len(allowedCpus))
	for _, node := range nodes {
		for _, cpu := range cpuOfNode[node] {
			nodeOfCpu[cpu] = node
		}
	}

	distance, err := readDistances(nodeDir, nodes)
	if err != nil {
		return nil, err
	}

	t := &Topology{
		nodes:     nodes,
		cpus:      allowedCpus,
		cpuOfNode: cpuOfNode,
		nodeOfCpu: nodeOfCpu,
		distance:  distance,
	}
	t.maxCpu = maxCpuId(allowedCpus)
	t.maxNode = maxNodeId(nodes)
	t.nodesByDistance = computeNodesByDistance(nodes, distance)

	return t, nil
}

// readDistances reads the per-node "distance" sysfs file. Its format
// is a single line of whitespace-separated integers, one per system
// node in ascending node-id order, giving the distance from this node
// to that one.
func readDistances(nodeDir string, nodes []ids.NodeId) (map[nodePair]int, error) {
	distance := make(map[nodePair]int, len(nodes)*len(nodes))

	for _, node := range nodes {
		path := filepath.Join(nodeDir, "node"+strconv.Itoa(int(node)), "distance")
		line, err := readFirstLine(path)
		if err != nil {
			return nil, errors.Wrapf(ErrTopologyProbeFailed, "node %d distance: %s", node, err)
		}

		fields := strings.Fields(line)
		for _, other := range nodes {
			idx := int(other)
			if idx < 0 || idx >= len(fields) {
				return nil, errors.Wrapf(ErrTopologyProbeFailed,
					"node %d distance: missing entry for node %d", node, other)
			}
			d, err := strconv.Atoi(fields[idx])
			if err != nil {
				return nil, errors.Wrapf(ErrTopologyProbeFailed,
					"node %d distance: invalid entry %q", node, fields[idx])
			}
			distance[nodePair{node, other}] = d
		}
	}

	return distance, nil
}

func computeNodesByDistance(nodes []ids.NodeId, distance map[nodePair]int) map[ids.NodeId][]ids.NodeId {
	result := make(map[ids.NodeId][]ids.NodeId, len(nodes))
	for _, self := range nodes {
		others := make([]ids.NodeId, 0, len(nodes)-1)
		for _, n := range nodes {
			if n != self {
				others = append(others, n)
			}
		}
		sort.SliceStable(others, func(i, j int) bool {
			di, dj := distance[nodePair{self, others[i]}], distance[nodePair{self, others[j]}]
			if di != dj {
				return di < dj
			}
			return others[i] < others[j]
		})
		result[self] = append([]ids.NodeId{self}, others...)
	}
	return result
}

func readCpuList(path string) ([]ids.CpuId, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ints, err := parseIntList(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	cpus := make([]ids.CpuId, len(ints))
	for i, v := range ints {
		cpus[i] = ids.CpuId(v)
	}
	return cpus, nil
}

// parseIntList parses a Linux list-format string such as "0-3,8,10-11"
// into its expanded, ascending, deduplicated integer members.
func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	seen := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, errors.Wrapf(err, "invalid range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, errors.Wrapf(err, "invalid range %q", part)
			}
			if start > end {
				return nil, errors.Newf("invalid range %q", part)
			}
			for v := start; v <= end; v++ {
				seen[v] = struct{}{}
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid entry %q", part)
		}
		seen[v] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return sc.Text(), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", nil
}

func maxCpuId(cpus []ids.CpuId) ids.CpuId {
	max := ids.CpuId(0)
	for _, c := range cpus {
		if c > max {
			max = c
		}
	}
	return max
}

func maxNodeId(nodes []ids.NodeId) ids.NodeId {
	max := ids.NodeId(0)
	for _, n := range nodes {
		if n > max {
			max = n
		}
	}
	return max
}

// AllowedCPUs returns the detected CPUs, ascending and deduplicated.
func (t *Topology) AllowedCPUs() []ids.CpuId {
	out := make([]ids.CpuId, len(t.cpus))
	copy(out, t.cpus)
	return out
}

// AllowedNodes returns the detected NUMA nodes, ascending and
// deduplicated.
func (t *Topology) AllowedNodes() []ids.NodeId {
	out := make([]ids.NodeId, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// CPUsFromNode returns the CPUs belonging to node, or ErrUnknownNode
// if node was not detected.
func (t *Topology) CPUsFromNode(node ids.NodeId) ([]ids.CpuId, error) {
	cpus, ok := t.cpuOfNode[node]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %d", node)
	}
	out := make([]ids.CpuId, len(cpus))
	copy(out, cpus)
	return out, nil
}

// AllowedCPUSet returns the detected CPUs as a cpuset.CPUSet, the
// shape cgroup/cpuset-manager callers expect (e.g. writing
// cpuset.cpus for a container, or intersecting against another
// process's affinity mask) rather than a plain slice.
func (t *Topology) AllowedCPUSet() cpuset.CPUSet {
	return toCPUSet(t.cpus)
}

// NodeCPUSet returns the CPUs belonging to node as a cpuset.CPUSet,
// or ErrUnknownNode if node was not detected.
func (t *Topology) NodeCPUSet(node ids.NodeId) (cpuset.CPUSet, error) {
	cpus, ok := t.cpuOfNode[node]
	if !ok {
		return cpuset.CPUSet{}, errors.Wrapf(ErrUnknownNode, "node %d", node)
	}
	return toCPUSet(cpus), nil
}

func toCPUSet(cpus []ids.CpuId) cpuset.CPUSet {
	ints := make([]int, len(cpus))
	for i, c := range cpus {
		ints[i] = int(c)
	}
	return cpuset.New(ints...)
}

// NodeFromCPU returns the NUMA node cpu belongs to, or ErrUnknownCPU
// if cpu was not detected.
func (t *Topology) NodeFromCPU(cpu ids.CpuId) (ids.NodeId, error) {
	node, ok := t.nodeOfCpu[cpu]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCPU, "cpu %d", cpu)
	}
	return node, nil
}

// NodesByDistance returns the nodes ordered by ascending NUMA distance
// from node: node itself first, then the remaining nodes by ascending
// distance, ties broken by ascending NodeId.
func (t *Topology) NodesByDistance(node ids.NodeId) ([]ids.NodeId, error) {
	order, ok := t.nodesByDistance[node]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %d", node)
	}
	out := make([]ids.NodeId, len(order))
	copy(out, order)
	return out, nil
}

// NodeDistance returns the raw NUMA distance between two nodes.
func (t *Topology) NodeDistance(a, b ids.NodeId) (int, error) {
	d, ok := t.distance[nodePair{a, b}]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownNode, "node %d or %d", a, b)
	}
	return d, nil
}

// MaxCPU returns the largest legal CpuId the system may report, for
// sizing arrays.
func (t *Topology) MaxCPU() ids.CpuId { return t.maxCpu }

// MaxNode returns the largest legal NodeId the system may report, for
// sizing arrays.
func (t *Topology) MaxNode() ids.NodeId { return t.maxNode }
