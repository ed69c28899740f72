// Command syssnap-demo drives pkg/snapshot in a loop: it periodically
// refreshes the snapshot, prints per-node and per-CPU state, and can
// optionally migrate a spawned child process to a random CPU on every
// tick. It is a thin driver, not part of the snapshot engine's tested
// surface.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"math/rand"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/ruben-laso/syssnap/pkg/ids"
	"github.com/ruben-laso/syssnap/pkg/process"
	"github.com/ruben-laso/syssnap/pkg/snapshot"
	"github.com/ruben-laso/syssnap/pkg/topology"
	"github.com/ruben-laso/syssnap/pkg/util/sysutil"
)

type options struct {
	debug     bool
	migration bool
	duration  time.Duration
	step      time.Duration
	childCmd  string
}

func main() {
	var o options

	root := &cobra.Command{
		Use:   "syssnap-demo",
		Short: "Demo driver for the NUMA/process snapshot engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().BoolVarP(&o.debug, "debug", "d", false, "debug output")
	root.Flags().BoolVarP(&o.migration, "migration", "m", false, "migrate the spawned child to a random CPU on every tick")
	root.Flags().DurationVarP(&o.duration, "time", "t", 30*time.Second, "time to run the demo for")
	root.Flags().DurationVarP(&o.step, "dt", "s", 1*time.Second, "time step between ticks")
	root.Flags().StringVarP(&o.childCmd, "run", "r", "", "child process to spawn and observe")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.debug {
		stdr.SetVerbosity(1)
	}
	log := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var child *exec.Cmd
	var childPid ids.Pid
	if o.childCmd != "" {
		var err error
		child, err = spawnChild(o.childCmd)
		if err != nil {
			return errors.Wrapf(err, "spawning child %q", o.childCmd)
		}
		childPid = ids.Pid(child.Process.Pid)
		log.Info("child process started", "pid", childPid, "cmd", o.childCmd)
		go reapChild(child, log)
	}

	topo, err := topology.New()
	if err != nil {
		return errors.Wrap(err, "detecting topology")
	}

	source := process.NewProcSource(topo, log)

	snap, err := snapshot.New(topo, source, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return errors.Wrap(err, "constructing snapshot")
	}

	log.Info("demo started",
		"duration", o.duration, "step", o.step, "migration", o.migration,
		"cpus", topo.AllowedCPUSet().String())

	deadline := time.Now().Add(o.duration)
	ticker := time.NewTicker(o.step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted")
			return nil
		case now := <-ticker.C:
			if now.After(deadline) {
				return nil
			}
			tick(snap, topo, childPid, o.migration, log)
		}
	}
}

func spawnChild(command string) (*exec.Cmd, error) {
	cmd := exec.Command(command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func reapChild(cmd *exec.Cmd, log logr.Logger) {
	err := cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Info("child process ended", "pid", cmd.Process.Pid, "status", sysutil.ExitStatus(exitErr))
		return
	}
	log.Info("child process ended", "pid", cmd.Process.Pid)
}

func tick(snap *snapshot.Snapshot, topo *topology.Topology, childPid ids.Pid, migrate bool, log logr.Logger) {
	start := time.Now()
	if err := snap.Update(); err != nil {
		log.Error(err, "update failed")
		return
	}
	log.V(1).Info("snapshot updated", "took", time.Since(start))

	showNUMAState(snap, topo, log)
	showCPUState(snap, topo, log)

	if childPid != 0 {
		printChildrenInfo(snap, childPid, log)
	}

	if migrate && childPid != 0 {
		migrateRandomChild(snap, topo, childPid, log)
	}
}

func showNUMAState(snap *snapshot.Snapshot, topo *topology.Topology, log logr.Logger) {
	for _, node := range topo.AllowedNodes() {
		pids := sortedPids(snap.OriginalPidsInNode(node))
		log.Info("node state", "node", node, "processes", len(pids), "cpu_use", snap.NodeUse(node))
	}
}

func showCPUState(snap *snapshot.Snapshot, topo *topology.Topology, log logr.Logger) {
	for _, cpu := range topo.AllowedCPUs() {
		pids := sortedPids(snap.OriginalPidsInCPU(cpu))
		log.Info("cpu state", "cpu", cpu, "processes", len(pids), "cpu_use", snap.CPUUse(cpu))
	}
}

func printChildrenInfo(snap *snapshot.Snapshot, childPid ids.Pid, log logr.Logger) {
	cpu, err := snap.OriginalProcessor(childPid)
	if err != nil {
		log.Info("child no longer exists", "pid", childPid)
		return
	}
	log.Info("child process", "pid", childPid, "cpu", cpu)
}

func migrateRandomChild(snap *snapshot.Snapshot, topo *topology.Topology, childPid ids.Pid, log logr.Logger) {
	cpus := topo.AllowedCPUs()
	if len(cpus) == 0 {
		return
	}
	cpu := cpus[rand.Intn(len(cpus))]

	log.Info("migrating child", "pid", childPid, "cpu", cpu)
	if err := snap.MigrateToCPU(childPid, cpu); err != nil {
		log.Error(err, "migrate failed", "pid", childPid, "cpu", cpu)
		return
	}
	if err := snap.Commit(); err != nil {
		log.Error(err, "commit failed", "pid", childPid)
		return
	}
	log.Info("child migrated", "pid", childPid, "cpu", cpu)
}

func sortedPids(pids []ids.Pid) []ids.Pid {
	out := make([]ids.Pid, len(pids))
	copy(out, pids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
