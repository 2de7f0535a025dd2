// nodemap.go -- concurrency-safe maps keyed by relative path
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
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
	"github.com/puzpuzpuz/xsync/v3"
)

// Pair represents a matched pair of nodes: one from the older snapshot
// (Src/A) and one from the newer snapshot (Dst/B).
type Pair struct {
	Src, Dst *Node
}

// NodeMap is a concurrency safe map of relative path to Node, built up
// while a tree is being walked.
type NodeMap = xsync.MapOf[string, *Node]

// NodePairMap is a concurrency safe map of relative path to a matched
// Pair, built up during the Pair-Matcher's concurrent phases.
type NodePairMap = xsync.MapOf[string, Pair]

func NewNodeMap() *NodeMap {
	return xsync.NewMapOf[string, *Node]()
}

func NewNodePairMap() *NodePairMap {
	return xsync.NewMapOf[string, Pair]()
}
