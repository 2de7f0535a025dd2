// apply.go - the Applier: drives the 8-phase replay of one (A,B) step onto T
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

// Package apply implements the Applier: given two already-matched tree
// snapshots A and B and a live target T that starts byte-equivalent to
// A, it drives T to become byte-equivalent to B. The plan runs in a
// fixed sequence of phases - indexing, matching, pre-staging moved
// entries, deleting stale entries, creating new directories, a
// parallel update/create pass, staging cleanup, and a final directory
// mtime pass - and no phase may begin before the previous one
// completes. Only the update/create pass runs concurrently; everything
// else is single-threaded by construction.
package apply

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencoff/go-logger"
	zfsreplay "github.com/opencoff/zfsreplay"
	"github.com/opencoff/zfsreplay/match"
	"github.com/opencoff/zfsreplay/mutate"
	"github.com/opencoff/zfsreplay/walk"
)

// largeFileThreshold gates when update_pair consults the block-identity
// oracle instead of merging outright - merging a multi-gigabyte file
// just to discover it's untouched is wasted I/O, but the oracle call
// itself isn't free either, so it's reserved for files big enough that
// the tradeoff favors it.
const largeFileThreshold = 50 * 1024 * 1024

// BlockOracle answers whether a regular file's on-disk block layout
// is identical across two snapshots, without reading its contents. ok
// is false if the oracle could not answer (the caller then falls back
// to merge()).
type BlockOracle interface {
	BlockID(snapshot string, ino uint64) (id string, ok bool, err error)
}

// Config configures one Apply invocation.
type Config struct {
	ARoot, BRoot, TRoot string

	Mode        match.Mode
	SnapA, SnapB string

	// Walk tuning, passed straight through to walk.Options for both
	// sides of the comparison.
	Concurrency    int
	FollowSymlinks bool
	OneFS          bool
	Excludes       []string

	// Threads sizes the worker pool for phase 6; <=1 means "use all
	// available CPUs" (see zfsreplay.NewWorkPool).
	Threads int

	GenOracle   match.GenerationOracle
	BlockOracle BlockOracle

	Log       logger.Logger
	DryRun    bool
	Verbosity int
}

// Apply drives T from byte-equivalence with A to byte-equivalence with
// B. Any Mutator error aborts the remaining plan; there is no partial
// rollback - the caller is expected to re-roll T back to its last good
// snapshot and retry the whole step.
func Apply(ctx context.Context, cfg Config) error {
	opt := func(root string) walk.Options {
		return walk.Options{
			Root:           root,
			Concurrency:    cfg.Concurrency,
			FollowSymlinks: cfg.FollowSymlinks,
			OneFS:          cfg.OneFS,
			Excludes:       cfg.Excludes,
		}
	}

	aIdx, err := walk.Index(opt(cfg.ARoot))
	if err != nil {
		return &Error{"index", cfg.ARoot, err}
	}

	bIdx, err := walk.Index(opt(cfg.BRoot))
	if err != nil {
		return &Error{"index", cfg.BRoot, err}
	}

	res, err := match.Match(aIdx, bIdx, match.Options{
		Mode:      cfg.Mode,
		Oracle:    cfg.GenOracle,
		SnapshotA: cfg.SnapA,
		SnapshotB: cfg.SnapB,
	})
	if err != nil {
		return &Error{"match", cfg.BRoot, err}
	}

	for _, w := range res.Warnings {
		cfg.Log.Warn("%s", w)
	}

	mut := mutate.New(cfg.Log, cfg.DryRun, cfg.Verbosity)

	stagingRoot, err := prestage(mut, cfg, res.Pairs)
	if err != nil {
		return err
	}

	if err := deleteAOnly(mut, cfg, res.AOnly); err != nil {
		return err
	}

	if err := mkdirBOnly(mut, cfg, res.BOnly); err != nil {
		return err
	}

	if err := parallelPhase(mut, cfg, res.Pairs, res.BOnly); err != nil {
		return err
	}

	if stagingRoot != "" {
		if err := os.RemoveAll(stagingRoot); err != nil {
			return &Error{"cleanup-staging", stagingRoot, err}
		}
	}

	return finalDirTimes(mut, cfg, bIdx)
}

// prestage moves every pair whose a-side is not a directory and whose
// relpath changed between A and B out of T's live namespace, so the
// subsequent delete and create phases never collide with an entry
// that's mid-move. Returns the staging root it created (empty string
// if nothing needed staging).
func prestage(mut *mutate.Mutator, cfg Config, pairs []zfsreplay.Pair) (string, error) {
	var moved []zfsreplay.Pair
	for _, p := range pairs {
		if !p.Src.IsDir() && p.Src.RelPath() != p.Dst.RelPath() {
			moved = append(moved, p)
		}
	}
	if len(moved) == 0 {
		return "", nil
	}

	name := fmt.Sprintf(".zfsreplay-%012d", rand.Int63n(1_000_000_000_000))
	stagingRoot := filepath.Join(cfg.TRoot, name)

	for k, p := range moved {
		group := k / 256
		index := k % 256

		dir := filepath.Join(stagingRoot, fmt.Sprintf("%02x", group))
		if !cfg.DryRun {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return "", &Error{"prestage-mkdir", dir, err}
			}
		}

		staging := filepath.Join(dir, fmt.Sprintf("%02x", index))
		p.Dst.SetStagingPath(staging)

		src := filepath.Join(cfg.TRoot, p.Src.RelPath())
		if err := mut.Prename(src, staging); err != nil {
			return "", err
		}
	}

	return stagingRoot, nil
}

// deleteAOnly removes every entry present in A but not in B, walking
// relpaths in reverse sorted order so children are always removed
// before their parent directory.
func deleteAOnly(mut *mutate.Mutator, cfg Config, aOnly map[string]*zfsreplay.Node) error {
	rels := make([]string, 0, len(aOnly))
	for rel := range aOnly {
		rels = append(rels, rel)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(rels)))

	for _, rel := range rels {
		n := aOnly[rel]
		tpath := filepath.Join(cfg.TRoot, rel)
		var err error
		if n.IsDir() {
			err = mut.Rmdir(tpath, 1)
		} else {
			err = mut.Unlink(tpath, 1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mkdirBOnly creates every new directory in B before the parallel
// phase runs, since files below it may need to land inside it. Mode
// and ownership are set now; mtime is deliberately deferred to the
// final pass because creating children disturbs it.
func mkdirBOnly(mut *mutate.Mutator, cfg Config, bOnly map[string]*zfsreplay.Node) error {
	dirs := make([]*zfsreplay.Node, 0, len(bOnly))
	for _, n := range bOnly {
		if n.IsDir() {
			dirs = append(dirs, n)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].RelPath() < dirs[j].RelPath() })

	for _, n := range dirs {
		tpath := filepath.Join(cfg.TRoot, n.RelPath())
		if err := mut.Mkdir(tpath, n.Mode()); err != nil {
			return err
		}
		if err := mut.Chmod(tpath, n.Mode(), 1); err != nil {
			return err
		}
		if err := mut.Chown(tpath, int(n.Uid), int(n.Gid), 1); err != nil {
			return err
		}
	}
	return nil
}

// task is one unit of phase-6 work: either update an existing pair or
// create a fresh non-directory entry from B.
type task struct {
	isUpdate bool
	pair     zfsreplay.Pair
	node     *zfsreplay.Node
	target   string
}

// parallelPhase builds the work list for pairs plus non-directory
// b_only entries, sorts by target path for deterministic logging, and
// dispatches it across cfg.Threads workers. Tasks are safe to run
// concurrently because pairs have unique relpaths and b_only relpaths
// are disjoint from both a_only and paired relpaths.
func parallelPhase(mut *mutate.Mutator, cfg Config, pairs []zfsreplay.Pair, bOnly map[string]*zfsreplay.Node) error {
	tasks := make([]task, 0, len(pairs)+len(bOnly))

	for _, p := range pairs {
		tasks = append(tasks, task{
			isUpdate: true,
			pair:     p,
			target:   filepath.Join(cfg.TRoot, p.Dst.RelPath()),
		})
	}
	for _, n := range bOnly {
		if n.IsDir() {
			continue
		}
		tasks = append(tasks, task{
			isUpdate: false,
			node:     n,
			target:   filepath.Join(cfg.TRoot, n.RelPath()),
		})
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].target < tasks[j].target })

	pool := zfsreplay.NewWorkPool[task](cfg.Threads, func(_ int, t task) error {
		if t.isUpdate {
			return updatePair(mut, cfg, t.pair.Src, t.pair.Dst)
		}
		return createNew(mut, cfg, t.node, true)
	})

	for _, t := range tasks {
		pool.Submit(t)
	}
	pool.Close()
	return pool.Wait()
}

// updatePair reconciles an existing target entry (identified by a) to
// match b's content and metadata.
func updatePair(mut *mutate.Mutator, cfg Config, a, b *zfsreplay.Node) error {
	tpath := filepath.Join(cfg.TRoot, b.RelPath())

	if a.RelPath() != b.RelPath() {
		if b.IsDir() {
			return &InvariantViolation{"directory reached rename branch", b.RelPath()}
		}
		original := a.RelPath()
		if err := mut.Rename(b.StagingPath(), tpath, original); err != nil {
			return err
		}
	}

	switch cfg.Mode {
	case match.LINKED:
		if a.Ino == b.Ino {
			return nil
		}
	case match.COW:
		if a.Ctim.Equal(b.Ctim) {
			return nil
		}
	}

	switch {
	case b.IsDir():
		// control-flow only; no content action for directories.

	case b.IsSymlink():
		adest, err := a.LinkDest()
		if err != nil {
			return &Error{"linkdest", a.RelPath(), err}
		}
		bdest, err := b.LinkDest()
		if err != nil {
			return &Error{"linkdest", b.RelPath(), err}
		}
		if adest != bdest {
			if err := mut.Unlink(tpath, 3); err != nil {
				return err
			}
			if err := mut.Symlink(bdest, tpath); err != nil {
				return err
			}
		}

	case a.Siz != b.Siz:
		if err := mut.Copy(b.Path(), tpath); err != nil {
			return err
		}

	default:
		if cfg.Mode == match.COW && b.Siz > largeFileThreshold && cfg.BlockOracle != nil {
			aid, aok, err := cfg.BlockOracle.BlockID(cfg.SnapA, a.Ino)
			if err != nil {
				return &Error{"blockid", a.RelPath(), err}
			}
			bid, bok, err := cfg.BlockOracle.BlockID(cfg.SnapB, b.Ino)
			if err != nil {
				return &Error{"blockid", b.RelPath(), err}
			}
			if aok && bok && aid == bid {
				break
			}
		}
		if err := mut.Merge(b.Path(), tpath); err != nil {
			return err
		}
	}

	if !b.IsSymlink() && a.Mode() != b.Mode() {
		if err := mut.Chmod(tpath, b.Mode(), 2); err != nil {
			return err
		}
	}
	if a.Uid != b.Uid || a.Gid != b.Gid {
		if err := mut.Chown(tpath, int(b.Uid), int(b.Gid), 2); err != nil {
			return err
		}
	}
	if !a.Xattr.Equal(b.Xattr) {
		if err := mut.Xattr(tpath, b.Xattr, 2); err != nil {
			return err
		}
	}
	return mut.Utime(tpath, b, 3)
}

// createNew materializes a B-only entry at its target path.
func createNew(mut *mutate.Mutator, cfg Config, b *zfsreplay.Node, setUtime bool) error {
	tpath := filepath.Join(cfg.TRoot, b.RelPath())

	switch {
	case b.IsDir():
		if err := mut.Mkdir(tpath, b.Mode()); err != nil {
			return err
		}

	case b.IsSymlink():
		dest, err := b.LinkDest()
		if err != nil {
			return &Error{"linkdest", b.RelPath(), err}
		}
		if err := mut.Symlink(dest, tpath); err != nil {
			return err
		}

	default:
		if err := mut.Copy(b.Path(), tpath); err != nil {
			return err
		}
	}

	if !b.IsSymlink() {
		if err := mut.Chmod(tpath, b.Mode(), 3); err != nil {
			return err
		}
	}
	if err := mut.Chown(tpath, int(b.Uid), int(b.Gid), 3); err != nil {
		return err
	}
	if err := mut.Xattr(tpath, b.Xattr, 3); err != nil {
		return err
	}
	if setUtime {
		return mut.Utime(tpath, b, 3)
	}
	return nil
}

// finalDirTimes walks B's directories in their already-sorted order and
// sets atime/mtime on any whose target disagrees - child creation in
// the parallel phase and the directory-create phase both disturb a
// directory's mtime, so this must run last.
func finalDirTimes(mut *mutate.Mutator, cfg Config, bIdx *zfsreplay.Index) error {
	for _, n := range bIdx.Nodes {
		if !n.IsDir() {
			continue
		}
		tpath := filepath.Join(cfg.TRoot, n.RelPath())
		st, err := zfsreplay.Lstat(tpath)
		if err != nil {
			return &Error{"stat", tpath, err}
		}
		if !st.Atim.Equal(n.Atim) || !st.Mtim.Equal(n.Mtim) {
			if err := mut.Utime(tpath, n, 3); err != nil {
				return err
			}
		}
	}
	return nil
}
