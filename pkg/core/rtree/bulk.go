package rtree

import (
	"fmt"
	"log"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"
)

// BulkLoad builds the tree bottom-up from records when it is empty and a bulk
// split strategy is configured. Otherwise the records are inserted one by
// one.
func (t *Tree) BulkLoad(records []common.Record) error {
	if err := t.writable(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if t.size > 0 || t.cfg.BulkSplit == nil {
		for _, r := range records {
			if err := t.Insert(r.ID, r.Vec); err != nil {
				return err
			}
		}
		return nil
	}

	dims := t.dims
	entries := make([]Entry, len(records))
	for i, r := range records {
		if dims == 0 {
			dims = len(r.Vec)
		}
		if len(r.Vec) == 0 || len(r.Vec) != dims {
			return fmt.Errorf("%w: record %d has %d coordinates, want %d", ErrDimensionMismatch, r.ID, len(r.Vec), dims)
		}
		if err := checkFinite(r.Vec); err != nil {
			return fmt.Errorf("record %d: %w", r.ID, err)
		}
		entries[i] = Entry{MBR: geom.Point(r.Vec), ID: r.ID}
	}
	t.dims = dims

	level := 0
	for {
		capacity, minFill := t.cfg.LeafCapacity, t.leafMin
		if level > 0 {
			capacity, minFill = t.cfg.DirCapacity, t.dirMin
		}
		nodes, err := t.packLevel(entries, level, minFill, capacity)
		if err != nil {
			return err
		}
		if len(nodes) == 1 {
			if err := t.store.FreePage(t.root); err != nil {
				return err
			}
			t.root = nodes[0].ID
			t.height = level
			break
		}
		entries = make([]Entry, len(nodes))
		for i, n := range nodes {
			entries[i] = Entry{MBR: n.ComputeMBR(), Child: n.ID}
		}
		level++
	}

	t.size = len(records)
	log.Printf("[RStar] Bulk loaded %d objects with %v, height %d", t.size, t.cfg.BulkSplit, t.height)
	return t.verify()
}

func (t *Tree) packLevel(entries []Entry, level, minFill, capacity int) ([]*Node, error) {
	boxes := make([]geom.Box, len(entries))
	for i, e := range entries {
		boxes[i] = e.MBR
	}
	groups := t.cfg.BulkSplit.Partition(boxes, minFill, capacity)

	nodes := make([]*Node, 0, len(groups))
	for _, g := range groups {
		if len(g) > capacity || (len(groups) > 1 && len(g) < minFill) {
			return nil, fmt.Errorf("%w: bulk partition of %d entries outside [%d, %d]", ErrCorrupt, len(g), minFill, capacity)
		}
		id, err := t.store.AllocatePage()
		if err != nil {
			return nil, err
		}
		n := &Node{ID: id, Level: level, Entries: make([]Entry, len(g))}
		for i, pos := range g {
			n.Entries[i] = entries[pos]
		}
		nodes = append(nodes, n)
	}
	if err := t.writeNodes(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (t *Tree) writeNodes(nodes []*Node) error {
	if bw, ok := t.store.(interface{ WriteNodes([]*Node) error }); ok {
		return bw.WriteNodes(nodes)
	}
	for _, n := range nodes {
		if err := t.store.WriteNode(n.ID, n); err != nil {
			return err
		}
	}
	return nil
}
