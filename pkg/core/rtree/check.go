package rtree

import (
	"fmt"

	"rstardb/pkg/common"
	"rstardb/pkg/storage"
)

// Check verifies the structural invariants of the whole tree: levels, fill
// bounds, exact directory MBRs, dimensionality, unique ids and the object
// count.
func (t *Tree) Check() error {
	root, err := t.store.ReadNode(t.root)
	if err != nil {
		return fmt.Errorf("rtree: check: %w", err)
	}
	if root.Level != t.height {
		return fmt.Errorf("%w: root level %d, height %d", ErrCorrupt, root.Level, t.height)
	}
	if len(root.Entries) > t.capacity(root) {
		return fmt.Errorf("%w: root holds %d entries, capacity %d", ErrCorrupt, len(root.Entries), t.capacity(root))
	}
	if !root.IsLeaf() && len(root.Entries) < 2 {
		return fmt.Errorf("%w: directory root with %d entries", ErrCorrupt, len(root.Entries))
	}

	c := checker{tree: t, seen: make(map[common.ObjectID]struct{}, t.size)}
	if err := c.visit(root, true); err != nil {
		return err
	}
	if len(c.seen) != t.size {
		return fmt.Errorf("%w: %d objects indexed, size %d", ErrCorrupt, len(c.seen), t.size)
	}
	return nil
}

type checker struct {
	tree *Tree
	seen map[common.ObjectID]struct{}
}

func (c *checker) visit(n *Node, isRoot bool) error {
	t := c.tree
	if !isRoot && (len(n.Entries) < t.minFill(n) || len(n.Entries) > t.capacity(n)) {
		return fmt.Errorf("%w: %v outside fill [%d, %d]", ErrCorrupt, n, t.minFill(n), t.capacity(n))
	}
	for i, e := range n.Entries {
		if e.MBR.Dim() != t.dims {
			return fmt.Errorf("%w: %v entry %d has %d dimensions", ErrCorrupt, n, i, e.MBR.Dim())
		}
		if n.IsLeaf() {
			if _, dup := c.seen[e.ID]; dup {
				return fmt.Errorf("%w: object %d indexed twice", ErrCorrupt, e.ID)
			}
			c.seen[e.ID] = struct{}{}
			continue
		}
		child, err := c.child(e.Child)
		if err != nil {
			return err
		}
		if child.Level != n.Level-1 {
			return fmt.Errorf("%w: %v below %v", ErrCorrupt, child, n)
		}
		if mbr := child.ComputeMBR(); !mbr.Equal(e.MBR) {
			return fmt.Errorf("%w: %v entry %d MBR %v, child bounds %v", ErrCorrupt, n, i, e.MBR, mbr)
		}
		if err := c.visit(child, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) child(id storage.PageID) (*Node, error) {
	n, err := c.tree.store.ReadNode(id)
	if err != nil {
		return nil, fmt.Errorf("rtree: check page %d: %w", id, err)
	}
	return n, nil
}
