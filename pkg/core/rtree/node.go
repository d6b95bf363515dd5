package rtree

import (
	"errors"
	"fmt"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"
	"rstardb/pkg/storage"
)

var (
	ErrInvalidConfig     = errors.New("rtree: invalid configuration")
	ErrDimensionMismatch = errors.New("rtree: dimension mismatch")
	ErrCorrupt           = errors.New("rtree: corrupt tree")
	ErrInvalidArgument   = errors.New("rtree: invalid argument")
)

// Entry is a slot of a node. In a leaf it carries an object id and the
// object's point box, in a directory node the child page and its MBR.
type Entry struct {
	MBR   geom.Box
	ID    common.ObjectID
	Child storage.PageID
}

// Node is the in-memory image of one page. Level 0 is the leaf level and
// the root sits at the tree height.
type Node struct {
	ID      storage.PageID
	Level   int
	Entries []Entry
}

func (n *Node) IsLeaf() bool { return n.Level == 0 }

// ComputeMBR returns the union of the entry boxes, the empty box for an
// empty node.
func (n *Node) ComputeMBR() geom.Box {
	return geom.UnionAll(n.boxes())
}

func (n *Node) boxes() []geom.Box {
	out := make([]geom.Box, len(n.Entries))
	for i, e := range n.Entries {
		out[i] = e.MBR
	}
	return out
}

func (n *Node) String() string {
	kind := "dir"
	if n.IsLeaf() {
		kind = "leaf"
	}
	return fmt.Sprintf("Node{ID: %d, %s, Level: %d, Entries: %d}", n.ID, kind, n.Level, len(n.Entries))
}

func removeAt(entries []Entry, i int) []Entry {
	copy(entries[i:], entries[i+1:])
	return entries[:len(entries)-1]
}
