// job.go - one step of a replay chain: an (A,B) diff applied onto a live target
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package replay is the external collaborator (spec.md §6's "filesystem
// snapshot driver"): it sequences a chain of Applier invocations across
// a series of historical snapshots, rolling the target back to a known
// baseline before the chain starts and taking a native snapshot of the
// target after each successful step.
package replay

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/opencoff/go-logger"
	"github.com/opencoff/zfsreplay/apply"
	"github.com/opencoff/zfsreplay/match"
)

// Job is the common identity of one replay step: which dataset it
// belongs to, the snapshot name it will produce on T once done, the
// target mountpoint, and the key used to order it against its
// siblings.
type Job struct {
	Volname  string
	Snapname string
	Target   string
	SortKey  string
}

// NewJob fills in defaults the way the original driver does: an empty
// target becomes /mnt/<volname>, and an empty sort key becomes the
// snapshot name.
func NewJob(volname, snapname, target, sortKey string) Job {
	if target == "" {
		target = filepath.Join("/mnt", volname)
	}
	if sortKey == "" {
		sortKey = snapname
	}
	return Job{Volname: volname, Snapname: snapname, Target: target, SortKey: sortKey}
}

// SyncJob is a Job that replays the diff between two historical roots
// A and B onto Target. IsZFS selects COW matching (ctime-based
// unchanged detection, generation-oracle-verified inode pairing)
// versus LINKED matching (inode-based, for hardlinked backup trees
// that aren't ZFS snapshots at all).
type SyncJob struct {
	Job
	A, B   string
	Ignore []string
	IsZFS  bool
}

// NewSyncJob builds a SyncJob, applying Job's target/sort-key defaults.
func NewSyncJob(volname, snapname, a, b, target, sortKey string, ignore []string, isZFS bool) *SyncJob {
	return &SyncJob{
		Job:    NewJob(volname, snapname, target, sortKey),
		A:      a,
		B:      b,
		Ignore: ignore,
		IsZFS:  isZFS,
	}
}

// Runner holds the settings shared across every job in a chain: the
// oracles, logging, concurrency and dry-run configuration that don't
// vary per-step.
type Runner struct {
	Threads        int
	Concurrency    int
	FollowSymlinks bool
	OneFS          bool

	GenOracle   match.GenerationOracle
	BlockOracle apply.BlockOracle

	Log       logger.Logger
	DryRun    bool
	Verbosity int
}

// Run replays j's diff onto its target, choosing COW or LINKED
// matching per j.IsZFS. The two snapshot identifiers passed to the
// oracles are the job's A and B roots themselves - they are already
// dataset@snapshot-shaped when IsZFS is true, and unused by any oracle
// call when it's false (PATH_ONLY/LINKED mode never consults them).
func (r *Runner) Run(ctx context.Context, j *SyncJob) error {
	mode := match.LINKED
	if j.IsZFS {
		mode = match.COW
	}

	cfg := apply.Config{
		ARoot: j.A,
		BRoot: j.B,
		TRoot: j.Target,

		Mode:  mode,
		SnapA: j.A,
		SnapB: j.B,

		Concurrency:    r.Concurrency,
		FollowSymlinks: r.FollowSymlinks,
		OneFS:          r.OneFS,
		Excludes:       j.Ignore,

		Threads: r.Threads,

		GenOracle:   r.GenOracle,
		BlockOracle: r.BlockOracle,

		Log:       r.Log,
		DryRun:    r.DryRun,
		Verbosity: r.Verbosity,
	}

	if err := apply.Apply(ctx, cfg); err != nil {
		return &Error{"run", fmt.Sprintf("%s@%s", j.Volname, j.Snapname), err}
	}
	return nil
}

// Rollback rolls the job's target dataset back to its most recent
// snapshot, establishing the precondition apply.Apply requires: T
// starts byte-equivalent to A.
func Rollback(volname, snapshot string) error {
	cmd := exec.Command("zfs", "rollback", fmt.Sprintf("%s@%s", volname, snapshot))
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{"rollback", volname, fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

// Snapshot takes a native snapshot of volname named snapname, recording
// the chain's progress on T the same way the original replay driver
// marks completed steps.
func Snapshot(volname, snapname string) error {
	cmd := exec.Command("zfs", "snapshot", fmt.Sprintf("%s@%s", volname, snapname))
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{"snapshot", volname, fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}
