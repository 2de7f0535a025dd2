// node.go - a normalized filesystem entry used throughout the replay pipeline
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

package zfsreplay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Kind classifies the filesystem entries this module knows how to
// replay. Device, socket, fifo and door nodes are out of scope.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindDirectory
	KindRegular
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindRegular:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "invalid"
	}
}

// Node represents one entry of a source or target tree: its identity
// (name, path, relpath), its kind, and its stat(2) metadata. It
// satisfies fs.FileInfo so it composes with the rest of the ecosystem's
// file-walking conventions.
//
// link_dest is resolved lazily (only symlinks pay the readlink(2) cost,
// and only the first time it's asked for). staging_path is populated
// only by the Applier's pre-stage phase, for nodes that must move
// through a temporary location before landing at their final path.
type Node struct {
	name    string
	path    string
	relpath string
	kind    Kind

	Ino  uint64
	Siz  int64
	Dev  uint64
	Rdev uint64

	Mod   fs.FileMode
	Uid   uint32
	Gid   uint32
	Nlink uint32

	Atim time.Time
	Mtim time.Time
	Ctim time.Time

	Xattr Xattr

	linkDest   string
	linkResolved bool

	stagingPath string
}

var _ fs.FileInfo = &Node{}

// NewNode builds a Node from an lstat(2) result, a root-relative path,
// and the kind inferred from the mode bits. Callers (the walker) are
// responsible for classifying Kind; unsupported types never reach here.
func NewNode(root, path string, kind Kind) (*Node, error) {
	n := &Node{path: path, kind: kind}
	if err := n.lstat(); err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}
	n.relpath = rel
	n.name = filepath.Base(path)
	return n, nil
}

// Stat stats a path, following a trailing symlink.
func Stat(path string) (*Node, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	n := &Node{path: path, name: filepath.Base(path)}
	x, err := GetXattr(path)
	if err != nil {
		return nil, err
	}
	n.fromStat(&st, x)
	n.kind = modeToKind(n.Mod)
	return n, nil
}

// Fstat stats an already-open file; equivalent to Lstat(fd.Name()).
func Fstat(fd *os.File) (*Node, error) {
	return Lstat(fd.Name())
}

// Lstat stats a path without following a trailing symlink and without
// computing a relpath; useful for the low-level copy/clone primitives
// that only care about one entry in isolation.
func Lstat(path string) (*Node, error) {
	n := &Node{path: path, name: filepath.Base(path)}
	if err := n.lstat(); err != nil {
		return nil, err
	}
	n.kind = modeToKind(n.Mod)
	return n, nil
}

func modeToKind(m fs.FileMode) Kind {
	switch {
	case m.IsDir():
		return KindDirectory
	case m&fs.ModeSymlink != 0:
		return KindSymlink
	case m.IsRegular():
		return KindRegular
	default:
		return KindInvalid
	}
}

func (n *Node) lstat() error {
	var st syscall.Stat_t
	if err := syscall.Lstat(n.path, &st); err != nil {
		return &os.PathError{Op: "lstat", Path: n.path, Err: err}
	}

	x, err := LgetXattr(n.path)
	if err != nil {
		return err
	}

	n.fromStat(&st, x)
	return nil
}

func (n *Node) fromStat(st *syscall.Stat_t, x Xattr) {
	n.Ino = st.Ino
	n.Dev = uint64(st.Dev)
	n.Rdev = uint64(st.Rdev)
	n.Siz = st.Size
	n.Mod = fs.FileMode(st.Mode & 0777)
	n.Uid = st.Uid
	n.Gid = st.Gid
	n.Nlink = uint32(st.Nlink)
	n.Atim = ts2time(st.Atim)
	n.Mtim = ts2time(st.Mtim)
	n.Ctim = ts2time(st.Ctim)
	n.Xattr = x

	switch st.Mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		n.Mod |= fs.ModeDir
	case syscall.S_IFLNK:
		n.Mod |= fs.ModeSymlink
	}
}

// Path is the absolute (or walk-root-relative, per the caller's choice
// of root) path this node was found at on disk.
func (n *Node) Path() string { return n.path }

// RelPath is the path relative to the tree root; this is the key used
// for M2 relpath matching and for computing the target path.
func (n *Node) RelPath() string { return n.relpath }

// Kind reports whether this is a directory, regular file or symlink.
func (n *Node) Kind() Kind { return n.kind }

// SetKind overrides the classified kind of this node. Used by walkers
// that resolve a node's true type (e.g. after following a symlink)
// after the initial lstat.
func (n *Node) SetKind(k Kind) { n.kind = k }

func (n *Node) IsDir() bool     { return n.kind == KindDirectory }
func (n *Node) IsRegular() bool { return n.kind == KindRegular }
func (n *Node) IsSymlink() bool { return n.kind == KindSymlink }

// IsSameFS reports whether n and o live on the same device, i.e.
// whether a reflink/copy_file_range fast path is even possible between
// them.
func (n *Node) IsSameFS(o *Node) bool {
	return n.Dev == o.Dev && n.Rdev == o.Rdev
}

// HardlinkKey identifies the inode this node occupies, for hardlink-set
// collapse in Index.ByInode. Two nodes sharing a HardlinkKey on the
// same tree are the same inode.
func (n *Node) HardlinkKey() string {
	return fmt.Sprintf("%d:%d:%d", n.Dev, n.Rdev, n.Ino)
}

// LinkDest resolves (and caches) the symlink target. It is an error to
// call this on a non-symlink node.
func (n *Node) LinkDest() (string, error) {
	if !n.IsSymlink() {
		return "", fmt.Errorf("node: %s: not a symlink", n.relpath)
	}
	if !n.linkResolved {
		dest, err := os.Readlink(n.path)
		if err != nil {
			return "", &os.PathError{Op: "readlink", Path: n.path, Err: err}
		}
		n.linkDest = dest
		n.linkResolved = true
	}
	return n.linkDest, nil
}

// StagingPath returns the temporary pre-stage location assigned to this
// node by the Applier, if any.
func (n *Node) StagingPath() string { return n.stagingPath }

// SetStagingPath records the pre-stage location; only the Applier's
// pre-stage phase should call this.
func (n *Node) SetStagingPath(p string) { n.stagingPath = p }

// fs.FileInfo

func (n *Node) Name() string       { return n.name }
func (n *Node) Size() int64        { return n.Siz }
func (n *Node) Mode() fs.FileMode  { return n.Mod }
func (n *Node) ModTime() time.Time { return n.Mtim }
func (n *Node) Sys() any           { return n }

func (n *Node) String() string {
	return fmt.Sprintf("%s[%s]: %d %d; %s", n.relpath, n.kind, n.Siz, n.Nlink, n.ModTime().UTC())
}

func ts2time(a syscall.Timespec) time.Time {
	return time.Unix(a.Sec, a.Nsec)
}
