package process

import "github.com/ruben-laso/syssnap/pkg/ids"

// PinCall records one invocation of PinToCPU or PinToNode against a
// FakeSource, so tests can assert on exactly what the snapshot engine
// tried to commit.
type PinCall struct {
	Pid  ids.Pid
	CPU  ids.CpuId
	Node ids.NodeId
	// ToNode is true for a PinToNode call, false for PinToCPU.
	ToNode bool
}

// FakeSource is a deterministic, in-memory Source used by every
// pkg/snapshot test in place of a real /proc scrape. Update only
// counts calls and returns the error set by SetUpdateError; records
// change only through SetRecords and pinning. PinToCPU and PinToNode
// mutate the stored record in place, so a Source.Update following a
// commit observes the pin. PinToCPU moves only the record's Processor;
// its NUMANode keeps its previous value.
type FakeSource struct {
	records   map[ids.Pid]Record
	nodeCPU   map[ids.NodeId]ids.CpuId // representative CPU a PinToNode call lands on, if configured
	pins      []PinCall
	unpinned  []ids.Pid
	unpinAll  int
	updates   int
	updateErr error

	pinToCPUErr func(pid ids.Pid, cpu ids.CpuId) error
}

// NewFakeSource constructs a FakeSource seeded with the given records.
func NewFakeSource(records ...Record) *FakeSource {
	f := &FakeSource{
		records: make(map[ids.Pid]Record, len(records)),
		nodeCPU: make(map[ids.NodeId]ids.CpuId),
	}
	for _, r := range records {
		f.records[r.PID] = r
	}
	return f
}

// SetRecords replaces the fake's entire record set, simulating a
// fresh kernel scrape (e.g. a process exited or a new one appeared).
func (f *FakeSource) SetRecords(records ...Record) {
	f.records = make(map[ids.Pid]Record, len(records))
	for _, r := range records {
		f.records[r.PID] = r
	}
}

// SetUpdateError makes the next Update call (and every one after,
// until cleared with nil) return err.
func (f *FakeSource) SetUpdateError(err error) { f.updateErr = err }

// SetNodeRepresentativeCPU configures which CPU PinToNode moves a
// task's Processor field to, simulating the kernel's choice of a
// specific CPU within the pinned node.
func (f *FakeSource) SetNodeRepresentativeCPU(node ids.NodeId, cpu ids.CpuId) {
	f.nodeCPU[node] = cpu
}

// SetPinToCPUError installs a hook consulted by every PinToCPU call;
// a non-nil return aborts that call before it mutates the record, so
// tests can exercise Snapshot's partial-commit-failure path.
func (f *FakeSource) SetPinToCPUError(fn func(pid ids.Pid, cpu ids.CpuId) error) {
	f.pinToCPUErr = fn
}

// Updates returns how many times Update has been called.
func (f *FakeSource) Updates() int { return f.updates }

// Pins returns every PinToCPU/PinToNode call observed so far.
func (f *FakeSource) Pins() []PinCall {
	out := make([]PinCall, len(f.pins))
	copy(out, f.pins)
	return out
}

func (f *FakeSource) Update() error {
	f.updates++
	return f.updateErr
}

func (f *FakeSource) Iter() []Record {
	out := make([]Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out
}

func (f *FakeSource) Get(pid ids.Pid) (Record, bool) {
	r, ok := f.records[pid]
	return r, ok
}

func (f *FakeSource) CPUUse(pid ids.Pid) float32 {
	return f.records[pid].CPUUse
}

func (f *FakeSource) PinToCPU(pid ids.Pid, cpu ids.CpuId) error {
	if f.pinToCPUErr != nil {
		if err := f.pinToCPUErr(pid, cpu); err != nil {
			return err
		}
	}
	f.pins = append(f.pins, PinCall{Pid: pid, CPU: cpu})
	r, ok := f.records[pid]
	if !ok {
		return nil
	}
	r.Processor = cpu
	f.records[pid] = r
	return nil
}

func (f *FakeSource) PinToNode(pid ids.Pid, node ids.NodeId) error {
	f.pins = append(f.pins, PinCall{Pid: pid, Node: node, ToNode: true})
	r, ok := f.records[pid]
	if !ok {
		return nil
	}
	r.NUMANode = node
	if cpu, ok := f.nodeCPU[node]; ok {
		r.Processor = cpu
	}
	f.records[pid] = r
	return nil
}

func (f *FakeSource) Unpin(pid ids.Pid) error {
	f.unpinned = append(f.unpinned, pid)
	return nil
}

func (f *FakeSource) UnpinAll() error {
	f.unpinAll++
	return nil
}
