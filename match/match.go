// match.go - the Pair-Matcher: pairs nodes across two tree snapshots
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

// Package match implements the Pair-Matcher: given an Index for the
// older snapshot (A) and one for the newer snapshot (B), it decides
// which Nodes represent "the same" filesystem entry across the two
// trees, so the Applier can update-in-place rather than delete+create.
//
// Matching happens in three phases, in this order:
//
//	M1 (inode):   in LINKED/COW mode, nodes sharing an inode identity
//	              are paired first and removed from further
//	              consideration - renames and moves are free in this
//	              phase because identity didn't change.
//	M2 (relpath):  whatever remains is paired by relative path; a type
//	              change (dir <-> file <-> symlink) at the same
//	              relpath is NOT a pair - both sides fall through as
//	              residuals and the Applier deletes then recreates.
//	M3 (output):   whatever is left unpaired on either side becomes
//	              that side's residual set (a_only / b_only).
package match

import (
	"sync"

	zfsreplay "github.com/opencoff/zfsreplay"
)

// Mode selects how aggressively M1 trusts inode numbers to mean "the
// same file" across the two snapshots.
type Mode int

const (
	// PATH_ONLY skips M1 entirely; every pair is decided purely by
	// relative path. Safe on any filesystem, never recognizes a
	// rename/move.
	PATH_ONLY Mode = iota

	// LINKED trusts that an inode number appearing on both sides
	// denotes the same file, with no further verification. Correct
	// when src_root_a and src_root_b are hardlinked snapshots of a
	// shared inode table (e.g. rsync --link-dest layouts).
	LINKED

	// COW additionally verifies inode identity via a generation
	// oracle, because ZFS (and other CoW filesystems) can recycle an
	// inode number across snapshots for an unrelated file.
	COW
)

// GenerationOracle resolves the on-disk generation number of an inode
// within a given dataset@snapshot, used only in COW mode to detect
// inode recycling. ok is false if the oracle could not answer.
type GenerationOracle interface {
	Generation(snapshot string, ino uint64) (gen uint64, ok bool, err error)
}

// Result is the output of Match: paired nodes plus each side's
// residual (unpaired) nodes, keyed by relpath.
type Result struct {
	Pairs []zfsreplay.Pair
	AOnly map[string]*zfsreplay.Node
	BOnly map[string]*zfsreplay.Node

	// Warnings collects non-fatal HardlinkWarning/RecycledInodeWarning
	// values encountered while matching.
	Warnings []error
}

// Options configures one Match call.
type Options struct {
	Mode Mode

	// Oracle and the two dataset@snapshot identifiers are required
	// only in COW mode.
	Oracle   GenerationOracle
	SnapshotA string
	SnapshotB string
}

// Match pairs the nodes of a and b per Options.Mode and returns the
// pairing plus both sides' residuals.
func Match(a, b *zfsreplay.Index, opt Options) (*Result, error) {
	aByRel := make(map[string]*zfsreplay.Node, len(a.ByRelPath))
	for k, v := range a.ByRelPath {
		aByRel[k] = v
	}
	bByRel := make(map[string]*zfsreplay.Node, len(b.ByRelPath))
	for k, v := range b.ByRelPath {
		bByRel[k] = v
	}

	res := &Result{}

	if opt.Mode != PATH_ONLY {
		if err := matchByInode(a, b, aByRel, bByRel, opt, res); err != nil {
			return nil, err
		}
	}

	matchByRelPath(aByRel, bByRel, res)

	res.AOnly = aByRel
	res.BOnly = bByRel
	return res, nil
}

// M1: pair nodes whose inode identity agrees across both trees.
// Directories are never matched by inode (a directory's inode is not a
// stable cross-snapshot identity the way a regular file's content-bearing
// inode is); only regular files and symlinks participate.
//
// Each distinct inode is independent of every other, so the per-inode
// work (in COW mode, a round trip to the generation oracle) is fanned
// out across a WorkPool; every worker writes its verdict into a
// NodePairMap rather than the plain aByRel/bByRel maps, since those
// aren't safe for concurrent mutation. Once the pool drains, the
// pairings are frozen into aByRel/bByRel/res.Pairs sequentially - the
// same "concurrent fan-out, then freeze into plain maps" shape walk
// uses to build an Index.
func matchByInode(a, b *zfsreplay.Index, aByRel, bByRel map[string]*zfsreplay.Node, opt Options, res *Result) error {
	pending := zfsreplay.NewNodePairMap()

	var warnMu sync.Mutex
	var warnings []error
	addWarning := func(w error) {
		warnMu.Lock()
		warnings = append(warnings, w)
		warnMu.Unlock()
	}

	pool := zfsreplay.NewWorkPool[string](0, func(_ int, inode string) error {
		bnodes := b.ByInode[inode]
		if len(bnodes) == 0 || bnodes[0].IsDir() {
			return nil
		}

		anodes, ok := a.ByInode[inode]
		if !ok || len(anodes) == 0 {
			return nil
		}

		arep, brep := anodes[0], bnodes[0]

		if opt.Mode == COW {
			agen, aok, err := opt.Oracle.Generation(opt.SnapshotA, arep.Ino)
			if err != nil {
				return &Error{"generation", arep.RelPath(), err}
			}
			bgen, bok, err := opt.Oracle.Generation(opt.SnapshotB, brep.Ino)
			if err != nil {
				return &Error{"generation", brep.RelPath(), err}
			}
			if !aok || !bok || agen != bgen {
				addWarning(&zfsreplay.RecycledInodeWarning{
					RelPath: brep.RelPath(),
					Ino:     brep.Ino,
				})
				return nil
			}
		}

		if len(anodes) > 1 || len(bnodes) > 1 {
			addWarning(&zfsreplay.HardlinkWarning{
				Inode:      inode,
				SrcAliases: relpaths(anodes),
				DstAliases: relpaths(bnodes),
			})
		}

		pending.Store(brep.RelPath(), zfsreplay.Pair{Src: arep, Dst: brep})
		return nil
	})

	for inode := range b.ByInode {
		pool.Submit(inode)
	}
	pool.Close()
	if err := pool.Wait(); err != nil {
		return err
	}

	res.Warnings = append(res.Warnings, warnings...)

	pending.Range(func(brel string, pr zfsreplay.Pair) bool {
		arel := pr.Src.RelPath()
		if _, ok := aByRel[arel]; !ok {
			// already consumed by an earlier inode (shouldn't
			// happen for distinct inodes, but guards hardlink
			// double-counting)
			return true
		}
		if _, ok := bByRel[brel]; !ok {
			return true
		}

		delete(aByRel, arel)
		delete(bByRel, brel)
		res.Pairs = append(res.Pairs, pr)
		return true
	})

	return nil
}

// M2: pair whatever inode-matching left behind, purely by relative
// path. A type change at the same relpath is deliberately NOT a match -
// both sides stay in their residual maps so the Applier deletes the old
// entry and creates the new one fresh.
func matchByRelPath(aByRel, bByRel map[string]*zfsreplay.Node, res *Result) {
	for rel, b := range bByRel {
		a, ok := aByRel[rel]
		if !ok || a.Kind() != b.Kind() {
			continue
		}
		delete(aByRel, rel)
		delete(bByRel, rel)
		res.Pairs = append(res.Pairs, zfsreplay.Pair{Src: a, Dst: b})
	}
}

func relpaths(nodes []*zfsreplay.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.RelPath()
	}
	return out
}
