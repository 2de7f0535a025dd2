// index.go - the indexed view of one directory tree snapshot
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

import "sort"

// Index is the indexed view of one tree: every Node encountered during
// a walk, plus two lookup structures built from it. Nodes is in walk
// order (parents always precede their children). ByRelPath is a 1:1
// lookup by the node's path relative to the tree root. ByInode groups
// nodes that share the same device:rdev:inode - a slice with more than
// one element is a hardlink set.
type Index struct {
	Root  string
	Nodes []*Node

	ByRelPath map[string]*Node
	ByInode   map[string][]*Node
}

// NewIndex freezes a NodeMap gathered concurrently during a walk into
// an Index: it snapshots the map into the three fixed views callers
// need, and sorts Nodes by relpath so later phases (deletion in
// reverse order, final directory mtime pass) have a deterministic,
// children-after-parents order to work with.
func NewIndex(root string, nodes *NodeMap) *Index {
	idx := &Index{
		Root:      root,
		ByRelPath: make(map[string]*Node),
		ByInode:   make(map[string][]*Node),
	}

	nodes.Range(func(rel string, n *Node) bool {
		idx.ByRelPath[rel] = n
		idx.Nodes = append(idx.Nodes, n)
		if n.IsRegular() || n.IsDir() || n.IsSymlink() {
			key := n.HardlinkKey()
			idx.ByInode[key] = append(idx.ByInode[key], n)
		}
		return true
	})

	sort.Slice(idx.Nodes, func(i, j int) bool {
		return idx.Nodes[i].RelPath() < idx.Nodes[j].RelPath()
	})

	return idx
}
