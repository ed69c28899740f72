//go:build linux

package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/ruben-laso/syssnap/pkg/ids"
	"github.com/ruben-laso/syssnap/pkg/topology"
)

// ErrPinFailed wraps a sched_setaffinity failure during a pin/unpin
// operation.
var ErrPinFailed = errors.New("pin failed")

// clockTicks returns the jiffies-per-second used to convert /proc CPU
// times: 100 (the usual CLK_TCK), unless the SYSSNAP_CLK_TCK
// environment variable holds a positive integer, mirroring the same
// escape hatch used elsewhere in the retrieval pack's /proc readers.
// The kernel is not queried.
func clockTicks() int {
	if v, err := strconv.Atoi(os.Getenv("SYSSNAP_CLK_TCK")); err == nil && v > 0 {
		return v
	}
	return 100
}

type cpuTime struct{ utime, stime uint64 }

// ProcSource is the real, /proc-backed ProcessSource: it scrapes
// every live task's CPU time and processor assignment, and pins tasks
// via sched_setaffinity.
type ProcSource struct {
	topo *topology.Topology
	log  logr.Logger

	records map[ids.Pid]Record
	prev    map[ids.Pid]cpuTime
	prevAt  time.Time
}

// NewProcSource constructs a ProcSource. topo is consulted to derive
// each task's NUMA node from its last-known processor, and to build
// the CPU set for PinToNode and Unpin.
func NewProcSource(topo *topology.Topology, log logr.Logger) *ProcSource {
	return &ProcSource{
		topo:    topo,
		log:     log,
		records: make(map[ids.Pid]Record),
		prev:    make(map[ids.Pid]cpuTime),
	}
}

func (p *ProcSource) Update() error {
	now := time.Now()
	dt := now.Sub(p.prevAt).Seconds()
	first := p.prevAt.IsZero()

	pids, err := listPIDs()
	if err != nil {
		return errors.Wrap(err, "listing /proc")
	}

	records := make(map[ids.Pid]Record, len(pids))
	prev := make(map[ids.Pid]cpuTime, len(pids))

	for _, pid := range pids {
		tids, err := listTasks(pid)
		if err != nil {
			p.log.V(1).Info("skipping vanished process", "pid", pid, "err", err.Error())
			continue
		}

		cmdline, err := readCmdline(pid)
		if err != nil {
			cmdline = ""
		}

		children := readChildren(pid)

		for _, tid := range tids {
			utime, stime, processor, err := readTaskStat(pid, tid)
			if err != nil {
				p.log.V(1).Info("skipping vanished task", "pid", pid, "tid", tid, "err", err.Error())
				continue
			}

			node, err := p.topo.NodeFromCPU(ids.CpuId(processor))
			if err != nil {
				node = 0
			}

			key := ids.Pid(tid)
			ct := cpuTime{utime, stime}
			prev[key] = ct

			var cpuUse float32
			if !first && dt > 0 {
				if old, ok := p.prev[key]; ok {
					deltaTicks := float64((ct.utime + ct.stime) - (old.utime + old.stime))
					if deltaTicks < 0 {
						deltaTicks = 0
					}
					cpuUse = float32(deltaTicks / float64(clockTicks()) / dt * 100)
				}
			}

			childrenAndTasks := append([]ids.Pid(nil), children...)
			for _, other := range tids {
				if other != tid {
					childrenAndTasks = append(childrenAndTasks, ids.Pid(other))
				}
			}

			records[key] = Record{
				PID:       ids.Pid(pid),
				TID:       key,
				Processor: ids.CpuId(processor),
				NUMANode:  node,
				CPUUse:    cpuUse,
				Cmdline:   cmdline,
				Children:  childrenAndTasks,
			}
		}
	}

	p.records = records
	p.prev = prev
	p.prevAt = now
	return nil
}

func (p *ProcSource) Iter() []Record {
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r)
	}
	return out
}

func (p *ProcSource) Get(pid ids.Pid) (Record, bool) {
	r, ok := p.records[pid]
	return r, ok
}

func (p *ProcSource) CPUUse(pid ids.Pid) float32 {
	return p.records[pid].CPUUse
}

func (p *ProcSource) PinToCPU(pid ids.Pid, cpu ids.CpuId) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(int(cpu))
	if err := unix.SchedSetaffinity(int(pid), &set); err != nil {
		return errors.Wrapf(ErrPinFailed, "pid %d to cpu %d: %s", pid, cpu, err)
	}
	return nil
}

func (p *ProcSource) PinToNode(pid ids.Pid, node ids.NodeId) error {
	cpus, err := p.topo.CPUsFromNode(node)
	if err != nil {
		return errors.Wrapf(ErrPinFailed, "pid %d to node %d: %s", pid, node, err)
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(int(c))
	}
	if err := unix.SchedSetaffinity(int(pid), &set); err != nil {
		return errors.Wrapf(ErrPinFailed, "pid %d to node %d: %s", pid, node, err)
	}
	return nil
}

func (p *ProcSource) Unpin(pid ids.Pid) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range p.topo.AllowedCPUs() {
		set.Set(int(c))
	}
	if err := unix.SchedSetaffinity(int(pid), &set); err != nil {
		return errors.Wrapf(ErrPinFailed, "pid %d unpin: %s", pid, err)
	}
	return nil
}

func (p *ProcSource) UnpinAll() error {
	var firstErr error
	for pid := range p.records {
		if err := p.Unpin(pid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

//
// /proc readers
//

func listPIDs() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pid, err := strconv.Atoi(e.Name()); err == nil {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func listTasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	sort.Ints(tids)
	return tids, nil
}

// readTaskStat parses /proc/<pid>/task/<tid>/stat, returning utime,
// stime (in jiffies) and the processor the task last ran on. The comm
// field (2nd column) is parenthesized and may itself contain spaces
// and parentheses, so fields are read from after the last ") ".
func readTaskStat(pid, tid int) (utime, stime uint64, processor int, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
	if err != nil {
		return 0, 0, 0, err
	}
	line := strings.TrimSpace(string(data))
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, 0, 0, errors.Newf("malformed stat line for %d/%d", pid, tid)
	}
	fields := strings.Fields(line[i+2:])

	// Fields are 0-indexed here but counted from field 3 (state) in
	// the proc(5) man page: utime=14, stime=15, processor=39.
	get := func(manIndex int) (string, error) {
		idx := manIndex - 3
		if idx < 0 || idx >= len(fields) {
			return "", errors.Newf("short stat line for %d/%d", pid, tid)
		}
		return fields[idx], nil
	}

	utimeStr, err := get(14)
	if err != nil {
		return 0, 0, 0, err
	}
	stimeStr, err := get(15)
	if err != nil {
		return 0, 0, 0, err
	}
	procStr, err := get(39)
	if err != nil {
		// Kernels before 2.6.24 lack field 39; treat as CPU 0.
		procStr = "0"
	}

	utime, _ = strconv.ParseUint(utimeStr, 10, 64)
	stime, _ = strconv.ParseUint(stimeStr, 10, 64)
	p64, _ := strconv.Atoi(procStr)
	return utime, stime, p64, nil
}

func readCmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	parts := strings.FieldsFunc(string(data), func(r rune) bool { return r == 0 })
	return strings.Join(parts, " "), nil
}

// readChildren globs /proc/<pid>/task/*/children — every thread of
// pid has its own children file, since a child is attributed to
// whichever thread called fork/clone — and dedups the result into
// pid's full direct-descendant list.
func readChildren(pid int) []ids.Pid {
	paths, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*/children", pid))
	set := make(map[ids.Pid]struct{})
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		sc.Split(bufio.ScanWords)
		for sc.Scan() {
			if v, err := strconv.Atoi(sc.Text()); err == nil {
				set[ids.Pid(v)] = struct{}{}
			}
		}
	}
	out := make([]ids.Pid, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
