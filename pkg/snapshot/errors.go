package snapshot

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/ruben-laso/syssnap/pkg/ids"
)

// ErrUnknownPid is returned by any query or migration naming a pid the
// snapshot has never observed.
var ErrUnknownPid = errors.New("unknown pid")

// ErrEmptyNode is returned by MigrateToNode when the target node owns
// no CPUs to choose from.
var ErrEmptyNode = errors.New("node has no CPUs")

// ErrDirtyUpdate is returned by Update when the snapshot has pending,
// uncommitted migrations: refreshing from the kernel would silently
// discard them.
var ErrDirtyUpdate = errors.New("update called on a staged snapshot")

// CommitKind identifies which half of a commit a CommitError occurred
// in.
type CommitKind string

const (
	CommitKindCPU  CommitKind = "cpu"
	CommitKindNode CommitKind = "node"
)

// CommitError reports that a single pending migration failed to apply
// during Commit. Entries committed before the failing one have
// already been dropped from the pending maps by the time this is
// returned; the failing entry and everything after it remain pending.
type CommitError struct {
	Pid  ids.Pid
	Kind CommitKind
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed for pid %d (%s pin): %s", e.Pid, e.Kind, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
