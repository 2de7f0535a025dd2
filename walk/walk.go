// walk.go - concurrent fs-walker
//
// (c) 2022- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package walk does a concurrent file system traversal rooted at a
// single directory and returns each directory/regular-file/symlink
// entry as a *zfsreplay.Node with its path relative to the root
// already computed. Device, socket, fifo and other special files are
// silently skipped - they are out of scope for tree replay. This
// library uses all the available CPUs (as returned by
// runtime.NumCPU()) to maximize concurrency of the file tree
// traversal.
package walk

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	zfsreplay "github.com/opencoff/zfsreplay"
)

// High level design:
//
// * multiple workers; each worker is responsible for processing a single
//   directory and its contents. A worker *always* outputs the directory entry
//   before descending to its children.
// * each directory encountered bumps up a WaitGroup count (walkState::dirWg).
// * Some filtering is done when we output via the `.output()` method and
//   some filtering happens when we process entries from a directory.

// Options control the behavior of the filesystem walk.
type Options struct {
	// Root directory of the walk; every Node's RelPath() is computed
	// relative to this.
	Root string

	// Number of go-routines to use; if not set (ie 0),
	// WalkFunc() will use the max available cpus
	Concurrency int

	// Follow symlinks if set
	FollowSymlinks bool

	// stay within the same file-system
	OneFS bool

	// Excludes is a list of shell-glob patterns to exclude from
	// the file-system traversal. In a sense it is an "input filter" -
	// for example, excluded directories are not descended.
	// The matching is done on the basename component of the pathname.
	Excludes []string

	// Filter is an optional caller provided callback to exclude
	// entries from further traversal. Must return true if this
	// entry should be skipped.
	Filter func(n *zfsreplay.Node) (bool, error)

	// RetryBackoff is consulted when a directory listing comes back
	// empty at the top level of the walk; it exists because ZFS
	// snapshot mounts can transiently report an empty directory
	// right after being mounted. Nil disables the retry.
	RetryBackoff []time.Duration
}

// internal state
type walkState struct {
	Options
	ch    chan string
	errch chan error

	// Tracks completion of the DFS walk across directories.
	// Each counter in this waitGroup tracks one subdir
	// we've encountered.
	dirWg sync.WaitGroup

	// Tracks worker goroutines
	wg sync.WaitGroup

	// functions that make our filtering easier
	filterName func(nm string) bool

	// return true if we haven't crossed mount point
	singlefs func(n *zfsreplay.Node) bool

	// the output action - either send node via chan or call user supplied func
	apply func(n *zfsreplay.Node)

	// Tracks device major:minor to detect mount-point crossings
	fs sync.Map
}

// WalkFunc traverses the tree rooted at opt.Root in a concurrent
// fashion and calls 'apply' for every directory/regular-file/symlink
// entry that passes opt.Filter and opt.Excludes. 'apply' must be
// concurrency-safe - it is called from multiple goroutines. Errors
// reported by 'apply' (or encountered during the walk) are joined and
// returned.
func WalkFunc(opt Options, apply func(n *zfsreplay.Node) error) error {
	if opt.Concurrency <= 0 {
		opt.Concurrency = runtime.NumCPU()
	}

	d := newWalkState(opt)

	d.apply = func(n *zfsreplay.Node) {
		if err := apply(n); err != nil {
			d.errch <- err
		}
	}

	if err := d.walkTop(opt.Root); err != nil {
		return err
	}

	var errWg sync.WaitGroup
	var errs []error

	errWg.Add(1)
	go func(in chan error) {
		for e := range in {
			errs = append(errs, e)
		}
		errWg.Done()
	}(d.errch)

	d.dirWg.Wait()
	close(d.ch)
	close(d.errch)
	errWg.Wait()
	d.wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func newWalkState(opt Options) *walkState {
	d := &walkState{
		Options: opt,
		ch:      make(chan string, opt.Concurrency),
		errch:   make(chan error, opt.Concurrency),

		filterName: func(_ string) bool { return false },
		singlefs:   func(_ *zfsreplay.Node) bool { return true },
	}

	if len(d.Excludes) > 0 {
		d.filterName = d.exclude
	}

	if d.OneFS {
		d.singlefs = d.isSingleFS
	}

	if d.Filter == nil {
		d.Filter = func(_ *zfsreplay.Node) (bool, error) { return false, nil }
	}

	d.wg.Add(d.Concurrency)
	for i := 0; i < d.Concurrency; i++ {
		go d.worker()
	}
	return d
}

// walkTop lists the root directory itself, retrying with backoff if
// the listing comes back empty - a ZFS snapshot mount freshly exposed
// under .zfs/snapshot can transiently report zero entries.
func (d *walkState) walkTop(root string) error {
	root = strings.TrimSuffix(root, "/")
	if len(root) == 0 {
		root = "/"
	}

	n, err := zfsreplay.NewNode(root, root, zfsreplay.KindDirectory)
	if err != nil {
		return &Error{"lstat", root, err}
	}
	if d.OneFS {
		d.trackFS(n)
	}

	names, err := d.listWithRetry(root)
	if err != nil {
		return err
	}

	d.output(n)
	d.dirWg.Add(1)
	d.processDir(root, names)
	return nil
}

// listWithRetry reads a directory, retrying up to len(RetryBackoff)
// additional times if the listing is empty, sleeping RetryBackoff[i]
// between attempts.
func (d *walkState) listWithRetry(nm string) ([]string, error) {
	names, err := readDir(nm)
	if err != nil {
		return nil, err
	}
	for i := 0; len(names) == 0 && i < len(d.RetryBackoff); i++ {
		time.Sleep(d.RetryBackoff[i])
		names, err = readDir(nm)
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// worker thread to walk directories
func (d *walkState) worker() {
	for nm := range d.ch {
		names, err := readDir(nm)
		if err != nil {
			d.error(err)
			d.dirWg.Done()
			continue
		}

		// It is crucial that we do this as the last thing in the processing loop.
		// Otherwise, we have a race condition where the workers will prematurely quit.
		// We can only decrement this wait-group _after_ processDir() has returned!
		d.processDir(nm, names)
		d.dirWg.Done()
	}
	d.wg.Done()
}

// output action for entries we encounter
func (d *walkState) output(n *zfsreplay.Node) {
	d.apply(n)
}

// return true iff basename(nm) matches one of the patterns
func (d *walkState) exclude(nm string) bool {
	bn := path.Base(nm)
	for _, pat := range d.Excludes {
		ok, err := path.Match(pat, bn)
		if err != nil {
			d.error(&Error{"exclude-glob", nm, fmt.Errorf("'%s': %w", pat, err)})
		} else if ok {
			return true
		}
	}
	return false
}

// enqueue a list of dirs in a separate go-routine so the caller is
// not blocked (deadlocked)
func (d *walkState) enq(dirs []string) {
	if len(dirs) > 0 {
		d.dirWg.Add(len(dirs))
		go func(dirs []string) {
			for _, nm := range dirs {
				d.ch <- nm
			}
		}(dirs)
	}
}

// read a dir and return the names
func readDir(nm string) ([]string, error) {
	fd, err := os.Open(nm)
	if err != nil {
		return nil, &Error{"readdir", nm, err}
	}
	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, &Error{"readdirnames", nm, err}
	}
	return names, nil
}

// processDir examines each entry of a directory already listed as
// 'names' rooted at 'dir', and queues further subdirs.
//
// There is *no* race condition between the workers reading d.ch and
// the wait-group going to zero: there is at least 1 count outstanding
// (the current entry being processed). So this function can take as
// long as it wants - the caller won't decrement that wait-count until
// this function returns, and by then the wait-count will have been
// bumped up by the number of dirs we've seen here.
func (d *walkState) processDir(dir string, names []string) {
	dirs := make([]string, 0, len(names)/2)
	for _, entry := range names {
		fp := fmt.Sprintf("%s/%s", dir, entry)
		if d.filterName(fp) {
			continue
		}

		n, err := zfsreplay.NewNode(d.Root, fp, zfsreplay.KindInvalid)
		if err != nil {
			d.error(&Error{"lstat", fp, err})
			continue
		}

		kind, ok := classify(n)
		if !ok {
			// device/socket/fifo/door - not in scope
			continue
		}

		if kind == zfsreplay.KindSymlink && d.FollowSymlinks {
			dirs = d.followSymlink(n, dirs)
			continue
		}
		n = retag(n, kind)

		skip, err := d.Filter(n)
		if err != nil {
			d.error(&Error{"filter", fp, err})
			continue
		}
		if skip {
			continue
		}

		switch kind {
		case zfsreplay.KindDirectory:
			if d.singlefs(n) {
				if d.OneFS {
					d.trackFS(n)
				}
				d.output(n)
				dirs = append(dirs, fp)
			}
		default:
			d.output(n)
		}
	}

	d.enq(dirs)
}

// followSymlink resolves a symlink and, if it points at a directory on
// the same file system, queues it for descent; otherwise it is output
// as the resolved entry.
func (d *walkState) followSymlink(n *zfsreplay.Node, dirs []string) []string {
	newnm, err := filepath.EvalSymlinks(n.Path())
	if err != nil {
		d.error(&Error{"symlink", n.Path(), err})
		return dirs
	}

	rn, err := zfsreplay.NewNode(d.Root, newnm, zfsreplay.KindInvalid)
	if err != nil {
		d.error(&Error{"symlink-stat", newnm, err})
		return dirs
	}

	kind, ok := classify(rn)
	if !ok {
		return dirs
	}
	rn = retag(rn, kind)

	if kind == zfsreplay.KindDirectory && d.singlefs(rn) {
		dirs = append(dirs, newnm)
	} else {
		d.output(rn)
	}
	return dirs
}

// classify maps a Node's raw mode to our Kind, reporting ok=false for
// any type this module doesn't replay (device/socket/fifo/door).
func classify(n *zfsreplay.Node) (zfsreplay.Kind, bool) {
	m := n.Mode()
	switch {
	case m.IsDir():
		return zfsreplay.KindDirectory, true
	case (m & os.ModeSymlink) != 0:
		return zfsreplay.KindSymlink, true
	case m.IsRegular():
		return zfsreplay.KindRegular, true
	default:
		return zfsreplay.KindInvalid, false
	}
}

// retag sets n's Kind to the one classify() computed: processDir and
// followSymlink build their Nodes with KindInvalid, and this corrects
// the Kind once the mode bits have been classified.
func retag(n *zfsreplay.Node, kind zfsreplay.Kind) *zfsreplay.Node {
	n.SetKind(kind)
	return n
}

// track this file for future mount points
func (d *walkState) trackFS(n *zfsreplay.Node) {
	key := fmt.Sprintf("%d:%d", n.Dev, n.Rdev)
	d.fs.Store(key, n)
}

// Return true if the inode is on the same file system as the root
func (d *walkState) isSingleFS(n *zfsreplay.Node) bool {
	key := fmt.Sprintf("%d:%d", n.Dev, n.Rdev)
	_, ok := d.fs.Load(key)
	return ok
}

// enq an error
func (d *walkState) error(e error) {
	d.errch <- e
}

// Index walks opt.Root and returns the indexed view of that tree. The
// 3x backoff (1s, 2s, 4s) retried against an empty top-level listing
// matches the behavior ZFS snapshot mounts need: a .zfs/snapshot
// mountpoint can report zero entries for a brief window right after
// being (re)mounted.
func Index(opt Options) (*zfsreplay.Index, error) {
	if len(opt.RetryBackoff) == 0 {
		opt.RetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}

	nodes := zfsreplay.NewNodeMap()
	err := WalkFunc(opt, func(n *zfsreplay.Node) error {
		nodes.Store(n.RelPath(), n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zfsreplay.NewIndex(opt.Root, nodes), nil
}
