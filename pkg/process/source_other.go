//go:build !linux

package process

import (
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/ruben-laso/syssnap/pkg/ids"
	"github.com/ruben-laso/syssnap/pkg/topology"
)

// ErrUnsupportedPlatform is returned by every ProcSource operation on
// non-Linux platforms: /proc scraping and sched_setaffinity are both
// Linux-specific.
var ErrUnsupportedPlatform = errors.New("process: /proc source is only supported on linux")

// ProcSource is a non-functional stub on non-Linux platforms. It
// exists so callers can compile NewProcSource unconditionally; every
// method returns ErrUnsupportedPlatform.
type ProcSource struct{}

// NewProcSource returns a stub ProcSource. topo and log are accepted
// for interface parity with the Linux build but are unused.
func NewProcSource(_ *topology.Topology, _ logr.Logger) *ProcSource {
	return &ProcSource{}
}

func (p *ProcSource) Update() error { return ErrUnsupportedPlatform }

func (p *ProcSource) Iter() []Record { return nil }

func (p *ProcSource) Get(ids.Pid) (Record, bool) { return Record{}, false }

func (p *ProcSource) CPUUse(ids.Pid) float32 { return 0 }

func (p *ProcSource) PinToCPU(ids.Pid, ids.CpuId) error { return ErrUnsupportedPlatform }

func (p *ProcSource) PinToNode(ids.Pid, ids.NodeId) error { return ErrUnsupportedPlatform }

func (p *ProcSource) Unpin(ids.Pid) error { return ErrUnsupportedPlatform }

func (p *ProcSource) UnpinAll() error { return ErrUnsupportedPlatform }
