package rtree

import (
	"fmt"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"

	"github.com/bits-and-blooms/bitset"
)

// pathStep is one node on a root-to-node path and the position of the entry
// followed below it (-1 on the last step).
type pathStep struct {
	node  *Node
	index int
}

// Insert adds an object at point. Ids are not checked for uniqueness; Index
// refuses ids that are already present.
func (t *Tree) Insert(id common.ObjectID, point []float64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.checkPoint(point); err != nil {
		return err
	}
	e := Entry{MBR: geom.Point(point), ID: id}
	if err := t.insertEntry(e, 0, bitset.New(uint(t.height+1))); err != nil {
		return fmt.Errorf("rtree: insert %d: %w", id, err)
	}
	t.size++
	t.stats.RecordInsert()
	return t.verify()
}

// insertEntry places e in a node at the given level and restores the fill
// and MBR invariants. reinserted is owned by the top-level insertion.
func (t *Tree) insertEntry(e Entry, level int, reinserted *bitset.BitSet) error {
	path, err := t.choosePath(e.MBR, level)
	if err != nil {
		return err
	}
	target := path[len(path)-1].node
	target.Entries = append(target.Entries, e)
	return t.adjustTree(path, reinserted)
}

func (t *Tree) choosePath(box geom.Box, level int) ([]pathStep, error) {
	node, err := t.store.ReadNode(t.root)
	if err != nil {
		return nil, err
	}
	if node.Level < level {
		return nil, fmt.Errorf("%w: no level %d below root level %d", ErrCorrupt, level, node.Level)
	}
	path := []pathStep{{node: node, index: -1}}
	for node.Level > level {
		if len(node.Entries) == 0 {
			return nil, fmt.Errorf("%w: empty directory node %d", ErrCorrupt, node.ID)
		}
		depth := t.height - node.Level
		i := t.cfg.Insertion.Choose(node.boxes(), box, t.height, depth)
		path[len(path)-1].index = i

		child, err := t.store.ReadNode(node.Entries[i].Child)
		if err != nil {
			return nil, err
		}
		if child.Level != node.Level-1 {
			return nil, fmt.Errorf("%w: node %d at level %d under level %d", ErrCorrupt, child.ID, child.Level, node.Level)
		}
		path = append(path, pathStep{node: child, index: -1})
		node = child
	}
	return path, nil
}

// adjustTree walks the path bottom-up after its last node gained an entry,
// resolving overflow and refreshing the MBRs stored in the parents.
func (t *Tree) adjustTree(path []pathStep, reinserted *bitset.BitSet) error {
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i].node

		if len(node.Entries) > t.capacity(node) {
			limit := len(node.Entries) - t.minFill(node)
			cands := t.cfg.Overflow.Reinsertions(node.boxes(), node.Level, i == 0, reinserted, limit)
			if len(cands) > 0 {
				return t.reinsert(path[:i+1], cands, reinserted)
			}

			sibling, err := t.split(node)
			if err != nil {
				return err
			}
			if i == 0 {
				return t.growRoot(node, sibling)
			}
			parent := path[i-1]
			parent.node.Entries[parent.index].MBR = node.ComputeMBR()
			parent.node.Entries = append(parent.node.Entries, Entry{MBR: sibling.ComputeMBR(), Child: sibling.ID})
			continue
		}

		if err := t.store.WriteNode(node.ID, node); err != nil {
			return err
		}
		if i == 0 {
			return nil
		}
		parent := path[i-1]
		mbr := node.ComputeMBR()
		if parent.node.Entries[parent.index].MBR.Equal(mbr) {
			return nil
		}
		parent.node.Entries[parent.index].MBR = mbr
	}
	return nil
}

// split moves the entries picked by the split strategy into a new sibling.
// Both nodes are written.
func (t *Tree) split(node *Node) (*Node, error) {
	minFill := t.minFill(node)
	mask := t.cfg.Split.Split(node.boxes(), minFill)
	if mask == nil {
		return nil, fmt.Errorf("%w: no valid split of %d entries at level %d", ErrCorrupt, len(node.Entries), node.Level)
	}

	id, err := t.store.AllocatePage()
	if err != nil {
		return nil, err
	}
	sibling := &Node{ID: id, Level: node.Level}
	keep := make([]Entry, 0, len(node.Entries))
	for j, e := range node.Entries {
		if mask.Test(uint(j)) {
			sibling.Entries = append(sibling.Entries, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(keep) < minFill || len(sibling.Entries) < minFill {
		return nil, fmt.Errorf("%w: split %d/%d below min fill %d", ErrCorrupt, len(keep), len(sibling.Entries), minFill)
	}
	node.Entries = keep

	if err := t.store.WriteNode(node.ID, node); err != nil {
		return nil, err
	}
	if err := t.store.WriteNode(sibling.ID, sibling); err != nil {
		return nil, err
	}
	return sibling, nil
}

func (t *Tree) growRoot(left, right *Node) error {
	id, err := t.store.AllocatePage()
	if err != nil {
		return err
	}
	root := &Node{
		ID:    id,
		Level: left.Level + 1,
		Entries: []Entry{
			{MBR: left.ComputeMBR(), Child: left.ID},
			{MBR: right.ComputeMBR(), Child: right.ID},
		},
	}
	if err := t.store.WriteNode(id, root); err != nil {
		return err
	}
	t.root = id
	t.height = root.Level
	return nil
}

// reinsert removes the entries at cands from the last node of path, shrinks
// the MBRs above it and inserts the removed entries again from the root at
// the same level.
func (t *Tree) reinsert(path []pathStep, cands []int, reinserted *bitset.BitSet) error {
	node := path[len(path)-1].node

	picked := bitset.New(uint(len(node.Entries)))
	removed := make([]Entry, 0, len(cands))
	for _, c := range cands {
		picked.Set(uint(c))
		removed = append(removed, node.Entries[c])
	}
	keep := make([]Entry, 0, len(node.Entries)-len(removed))
	for j, e := range node.Entries {
		if !picked.Test(uint(j)) {
			keep = append(keep, e)
		}
	}
	node.Entries = keep
	if err := t.store.WriteNode(node.ID, node); err != nil {
		return err
	}

	for i := len(path) - 1; i > 0; i-- {
		parent := path[i-1]
		mbr := path[i].node.ComputeMBR()
		if parent.node.Entries[parent.index].MBR.Equal(mbr) {
			break
		}
		parent.node.Entries[parent.index].MBR = mbr
		if err := t.store.WriteNode(parent.node.ID, parent.node); err != nil {
			return err
		}
	}

	for _, e := range removed {
		if err := t.insertEntry(e, node.Level, reinserted); err != nil {
			return err
		}
	}
	return nil
}
