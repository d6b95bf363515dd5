package rtree

import (
	"fmt"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"
	"rstardb/pkg/storage"

	"github.com/bits-and-blooms/bitset"
)

// Delete removes the object id stored at point. It reports false when no
// such entry exists.
func (t *Tree) Delete(id common.ObjectID, point []float64) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if t.size == 0 {
		return false, nil
	}
	if len(point) != t.dims {
		return false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(point), t.dims)
	}

	path, pos, err := t.findLeaf(t.root, geom.Point(point), id, nil)
	if err != nil {
		return false, err
	}
	if path == nil {
		return false, nil
	}
	leaf := path[len(path)-1].node
	leaf.Entries = removeAt(leaf.Entries, pos)

	orphans, err := t.condense(path)
	if err != nil {
		return false, err
	}
	if err := t.shrinkRoot(); err != nil {
		return false, err
	}
	t.size--

	var entries []Entry
	for _, n := range orphans {
		if entries, err = t.dissolve(n, entries); err != nil {
			return false, err
		}
	}
	for _, e := range entries {
		if err := t.insertEntry(e, 0, bitset.New(uint(t.height+1))); err != nil {
			return false, fmt.Errorf("rtree: reinsert %d: %w", e.ID, err)
		}
	}

	t.stats.RecordDelete()
	return true, t.verify()
}

// Contains reports whether id is indexed at point.
func (t *Tree) Contains(id common.ObjectID, point []float64) (bool, error) {
	if t.size == 0 || len(point) != t.dims {
		return false, nil
	}
	path, _, err := t.findLeaf(t.root, geom.Point(point), id, nil)
	return path != nil, err
}

// findLeaf searches the subtrees containing box for the leaf holding id.
func (t *Tree) findLeaf(page storage.PageID, box geom.Box, id common.ObjectID, path []pathStep) ([]pathStep, int, error) {
	node, err := t.store.ReadNode(page)
	if err != nil {
		return nil, -1, err
	}
	path = append(path, pathStep{node: node, index: -1})
	if node.IsLeaf() {
		for i, e := range node.Entries {
			if e.ID == id && e.MBR.Contains(box) {
				return path, i, nil
			}
		}
		return nil, -1, nil
	}
	for i, e := range node.Entries {
		if !e.MBR.Contains(box) {
			continue
		}
		path[len(path)-1].index = i
		found, pos, err := t.findLeaf(e.Child, box, id, path)
		if err != nil || found != nil {
			return found, pos, err
		}
	}
	return nil, -1, nil
}

// condense walks the path bottom-up after its leaf lost an entry. Underfull
// non-root nodes are cut from their parent and returned; the others are
// written with their parent's MBR refreshed.
func (t *Tree) condense(path []pathStep) ([]*Node, error) {
	var orphans []*Node
	for i := len(path) - 1; i > 0; i-- {
		node := path[i].node
		parent := path[i-1]
		if len(node.Entries) < t.minFill(node) {
			parent.node.Entries = removeAt(parent.node.Entries, parent.index)
			orphans = append(orphans, node)
			continue
		}
		if err := t.store.WriteNode(node.ID, node); err != nil {
			return nil, err
		}
		parent.node.Entries[parent.index].MBR = node.ComputeMBR()
	}
	root := path[0].node
	if err := t.store.WriteNode(root.ID, root); err != nil {
		return nil, err
	}
	return orphans, nil
}

// shrinkRoot drops directory roots with a single child. An emptied
// directory root turns into an empty leaf.
func (t *Tree) shrinkRoot() error {
	for {
		root, err := t.store.ReadNode(t.root)
		if err != nil {
			return err
		}
		switch {
		case root.IsLeaf() || len(root.Entries) > 1:
			return nil
		case len(root.Entries) == 0:
			root.Level = 0
			t.height = 0
			return t.store.WriteNode(root.ID, root)
		}
		child := root.Entries[0].Child
		if err := t.store.FreePage(root.ID); err != nil {
			return err
		}
		t.root = child
		t.height = root.Level - 1
	}
}

// dissolve collects the leaf entries below n and frees its pages.
func (t *Tree) dissolve(n *Node, acc []Entry) ([]Entry, error) {
	if n.IsLeaf() {
		acc = append(acc, n.Entries...)
	} else {
		for _, e := range n.Entries {
			child, err := t.store.ReadNode(e.Child)
			if err != nil {
				return acc, err
			}
			if acc, err = t.dissolve(child, acc); err != nil {
				return acc, err
			}
		}
	}
	return acc, t.store.FreePage(n.ID)
}
