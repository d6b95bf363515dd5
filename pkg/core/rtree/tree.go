// Package rtree implements a paged R*-tree over point objects with pluggable
// insertion, split and overflow strategies.
package rtree

import (
	"fmt"
	"log"
	"math"

	"rstardb/pkg/monitor"
	"rstardb/pkg/storage"
	"rstardb/pkg/strategy"

	"github.com/google/uuid"
)

const (
	DefaultCapacity = 50
	DefaultMinFill  = 0.4

	pageOverhead = 16
)

type Config struct {
	Dims         int // 0: fixed by the first insertion
	LeafCapacity int
	DirCapacity  int
	MinFill      float64

	Insertion strategy.InsertionStrategy
	Split     strategy.SplitStrategy
	Overflow  strategy.OverflowTreatment
	BulkSplit strategy.BulkSplit // nil: BulkLoad inserts one by one

	// CheckIntegrity runs Check after every mutation.
	CheckIntegrity bool
	Stats          *monitor.IndexStats
}

func DefaultConfig() Config {
	return Config{
		LeafCapacity: DefaultCapacity,
		DirCapacity:  DefaultCapacity,
		MinFill:      DefaultMinFill,
		Insertion:    strategy.DefaultInsertion(),
		Split:        strategy.TopologicalSplit{},
		Overflow:     strategy.LimitedReinsert{Reinsert: strategy.FarReinsert{Fraction: strategy.DefaultReinsertFraction}},
		BulkSplit:    strategy.SortTileRecursive{},
	}
}

// CapacitiesForPage derives node capacities from a page size. Leaf entries
// hold an id and a point, directory entries a page id and a box.
func CapacitiesForPage(pageSize, dims int) (leaf, dir int, err error) {
	if dims < 1 {
		return 0, 0, fmt.Errorf("%w: capacities need a dimensionality", ErrInvalidConfig)
	}
	leaf = (pageSize - pageOverhead) / (8 + 8*dims)
	dir = (pageSize - pageOverhead) / (8 + 16*dims)
	if leaf < 2 || dir < 2 {
		return 0, 0, fmt.Errorf("%w: page size %d too small for %d dimensions", ErrInvalidConfig, pageSize, dims)
	}
	return leaf, dir, nil
}

// Tree is a single-writer R*-tree. It is not safe for concurrent use.
type Tree struct {
	store NodeStore
	cfg   Config

	root   storage.PageID
	height int
	size   int
	dims   int

	leafMin int
	dirMin  int

	instance uuid.UUID
	stats    *monitor.IndexStats
}

// New creates an empty tree whose root is an empty leaf.
func New(store NodeStore, cfg Config) (*Tree, error) {
	t, err := newTree(store, cfg)
	if err != nil {
		return nil, err
	}
	if readOnly(store) {
		return nil, fmt.Errorf("rtree: create: %w", storage.ErrReadOnly)
	}
	id, err := store.AllocatePage()
	if err != nil {
		return nil, err
	}
	if err := store.WriteNode(id, &Node{ID: id}); err != nil {
		return nil, err
	}
	t.root = id
	t.instance = uuid.New()
	return t, nil
}

// Open reattaches to a tree persisted in store. Capacities, min fill and
// dimensionality come from the stored header, strategies from cfg.
func Open(store NodeStore, cfg Config) (*Tree, error) {
	hs, ok := store.(HeaderStore)
	if !ok {
		return nil, fmt.Errorf("%w: store keeps no header", ErrInvalidConfig)
	}
	h, err := hs.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("rtree: read header: %w", err)
	}
	cfg.Dims = h.Dims
	cfg.LeafCapacity = h.LeafCapacity
	cfg.DirCapacity = h.DirCapacity
	cfg.MinFill = h.MinFill

	t, err := newTree(store, cfg)
	if err != nil {
		return nil, err
	}
	t.instance, err = uuid.Parse(h.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: instance id: %v", ErrCorrupt, err)
	}
	t.root, t.height, t.size = h.Root, h.Height, h.Size

	root, err := store.ReadNode(t.root)
	if err != nil {
		return nil, fmt.Errorf("rtree: read root: %w", err)
	}
	if root.Level != t.height {
		return nil, fmt.Errorf("%w: root level %d, header height %d", ErrCorrupt, root.Level, t.height)
	}
	log.Printf("[RStar] Opened tree %s: %d objects, height %d", t.instance, t.size, t.height)
	return t, nil
}

func newTree(store NodeStore, cfg Config) (*Tree, error) {
	def := DefaultConfig()
	if cfg.Insertion == nil {
		cfg.Insertion = def.Insertion
	}
	if cfg.Split == nil {
		cfg.Split = def.Split
	}
	if cfg.Overflow == nil {
		cfg.Overflow = def.Overflow
	}
	if cfg.Dims < 0 {
		return nil, fmt.Errorf("%w: dims %d", ErrInvalidConfig, cfg.Dims)
	}
	if cfg.MinFill <= 0 || cfg.MinFill > 0.5 {
		return nil, fmt.Errorf("%w: min fill %g outside (0, 0.5]", ErrInvalidConfig, cfg.MinFill)
	}
	leafMin, err := minEntries(cfg.LeafCapacity, cfg.MinFill)
	if err != nil {
		return nil, fmt.Errorf("leaf: %w", err)
	}
	dirMin, err := minEntries(cfg.DirCapacity, cfg.MinFill)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	return &Tree{
		store:   store,
		cfg:     cfg,
		dims:    cfg.Dims,
		leafMin: leafMin,
		dirMin:  dirMin,
		stats:   cfg.Stats,
	}, nil
}

func minEntries(capacity int, fill float64) (int, error) {
	if capacity < 2 {
		return 0, fmt.Errorf("%w: capacity %d below 2", ErrInvalidConfig, capacity)
	}
	m := int(math.Floor(float64(capacity) * fill))
	if m < 1 {
		m = 1
	}
	if capacity+1 < 2*m {
		return 0, fmt.Errorf("%w: capacity %d cannot split into two nodes of %d", ErrInvalidConfig, capacity, m)
	}
	return m, nil
}

func (t *Tree) Len() int { return t.size }

func (t *Tree) Height() int { return t.height }

func (t *Tree) Dimensionality() int { return t.dims }

func (t *Tree) Root() storage.PageID { return t.root }

func (t *Tree) InstanceID() uuid.UUID { return t.instance }

func (t *Tree) Store() NodeStore { return t.store }

// Capacities returns the maximum and minimum fill of leaf and directory
// nodes.
func (t *Tree) Capacities() (leafMax, leafMin, dirMax, dirMin int) {
	return t.cfg.LeafCapacity, t.leafMin, t.cfg.DirCapacity, t.dirMin
}

func (t *Tree) capacity(n *Node) int {
	if n.IsLeaf() {
		return t.cfg.LeafCapacity
	}
	return t.cfg.DirCapacity
}

func (t *Tree) minFill(n *Node) int {
	if n.IsLeaf() {
		return t.leafMin
	}
	return t.dirMin
}

func (t *Tree) header() *Header {
	return &Header{
		InstanceID:   t.instance.String(),
		Dims:         t.dims,
		Height:       t.height,
		Root:         t.root,
		Size:         t.size,
		LeafCapacity: t.cfg.LeafCapacity,
		DirCapacity:  t.cfg.DirCapacity,
		MinFill:      t.cfg.MinFill,
	}
}

// Sync writes the header and flushes the store.
func (t *Tree) Sync() error {
	if readOnly(t.store) {
		return nil
	}
	if hs, ok := t.store.(HeaderStore); ok {
		if err := hs.WriteHeader(t.header()); err != nil {
			return fmt.Errorf("rtree: write header: %w", err)
		}
	}
	if s, ok := t.store.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// ReadOnly reports whether the store refuses page writes.
func (t *Tree) ReadOnly() bool {
	return readOnly(t.store)
}

func (t *Tree) writable() error {
	if readOnly(t.store) {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *Tree) checkPoint(p []float64) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty point", ErrDimensionMismatch)
	}
	if err := checkFinite(p); err != nil {
		return err
	}
	if t.dims == 0 {
		t.dims = len(p)
		return nil
	}
	if len(p) != t.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(p), t.dims)
	}
	return nil
}

func checkFinite(p []float64) error {
	for d, x := range p {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: coordinate %d is %v", ErrInvalidArgument, d, x)
		}
	}
	return nil
}

func (t *Tree) verify() error {
	if !t.cfg.CheckIntegrity {
		return nil
	}
	return t.Check()
}

// Walk visits every leaf entry until fn returns false.
func (t *Tree) Walk(fn func(e Entry) bool) error {
	_, err := t.walk(t.root, fn)
	return err
}

func (t *Tree) walk(id storage.PageID, fn func(e Entry) bool) (bool, error) {
	n, err := t.store.ReadNode(id)
	if err != nil {
		return false, err
	}
	for _, e := range n.Entries {
		if n.IsLeaf() {
			if !fn(e) {
				return false, nil
			}
			continue
		}
		more, err := t.walk(e.Child, fn)
		if err != nil || !more {
			return more, err
		}
	}
	return true, nil
}
