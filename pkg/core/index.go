package core

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rstardb/pkg/common"
	"rstardb/pkg/config"
	"rstardb/pkg/core/rtree"
	"rstardb/pkg/core/structure"
	"rstardb/pkg/distance"
	"rstardb/pkg/knn"
	"rstardb/pkg/monitor"
	"rstardb/pkg/relation"
	"rstardb/pkg/storage"
	"rstardb/pkg/storage/snapshot"
	"rstardb/pkg/strategy"
)

const (
	pagesFile    = "pages.db"
	logFile      = "pages.log"
	snapshotFile = "index.snap"
	vectorsFile  = "vectors.db"

	compactGarbage = 0.5
	bloomRebuild   = 1024
)

var (
	ErrNoPagedBackend  = errors.New("core: index has no paged backend")
	ErrDuplicateObject = errors.New("core: object already indexed")
)

// Index answers spatial queries over the objects of a relation. Methods
// serialize on one mutex; the tree underneath is single-writer.
type Index struct {
	mu      sync.Mutex
	cfg     *config.Config
	tree    *rtree.Tree
	rel     relation.Relation
	dist    distance.Function
	backend storage.Backend // nil for the arena store
	bloom   *structure.BloomFilter
	stats   *monitor.IndexStats

	// deletes since the filter was last rebuilt, and the count that
	// triggers the next rebuild
	deleted      int
	rebuildAfter int
}

// Open builds or reopens the index described by cfg over rel. Persistent
// backends holding a tree header are reattached, anything else starts empty.
func Open(cfg *config.Config, rel relation.Relation) (*Index, error) {
	dist, err := distance.ByName(cfg.Index.Distance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rtree.ErrInvalidConfig, err)
	}
	tcfg, err := treeConfig(cfg, rel)
	if err != nil {
		return nil, err
	}

	idx := &Index{cfg: cfg, rel: rel, dist: dist, stats: tcfg.Stats, rebuildAfter: bloomRebuild}
	store, err := idx.openStore()
	if err != nil {
		return nil, err
	}

	reopen := false
	if idx.backend != nil {
		if _, err := idx.backend.Read(storage.HeaderPage); err == nil {
			reopen = true
		} else if !errors.Is(err, storage.ErrPageNotFound) {
			idx.backend.Close()
			return nil, err
		}
	}
	if reopen {
		idx.tree, err = rtree.Open(store, tcfg)
	} else {
		idx.tree, err = rtree.New(store, tcfg)
	}
	if err != nil {
		if idx.backend != nil {
			idx.backend.Close()
		}
		return nil, err
	}

	expected := uint(idx.tree.Len())
	if it, ok := rel.(relation.Iterable); ok && uint(it.Len()) > expected {
		expected = uint(it.Len())
	}
	if expected < 1024 {
		expected = 1024
	}
	idx.bloom = structure.NewBloomFilter(expected, 0.01)
	if err := idx.rebuildBloom(); err != nil {
		idx.Close()
		return nil, err
	}

	log.Printf("[Index] Opened %s index %s (%d objects, height %d)", cfg.Storage.Backend, idx.tree.InstanceID(), idx.tree.Len(), idx.tree.Height())
	return idx, nil
}

func treeConfig(cfg *config.Config, rel relation.Relation) (rtree.Config, error) {
	tcfg := rtree.DefaultConfig()
	ic := cfg.Index

	var err error
	if tcfg.Insertion, err = strategy.ParseInsertion(ic.Insertion); err != nil {
		return tcfg, fmt.Errorf("%w: %v", rtree.ErrInvalidConfig, err)
	}
	if tcfg.Overflow, err = strategy.ParseOverflow(ic.Overflow, ic.Reinsert, ic.ReinsertFraction); err != nil {
		return tcfg, fmt.Errorf("%w: %v", rtree.ErrInvalidConfig, err)
	}
	if tcfg.Split, err = strategy.ParseSplit(ic.Split); err != nil {
		return tcfg, fmt.Errorf("%w: %v", rtree.ErrInvalidConfig, err)
	}
	if tcfg.BulkSplit, err = strategy.ParseBulkSplit(ic.BulkSplit); err != nil {
		return tcfg, fmt.Errorf("%w: %v", rtree.ErrInvalidConfig, err)
	}

	tcfg.Dims = ic.Dimensions
	if tcfg.Dims == 0 && rel != nil {
		tcfg.Dims = rel.Dimensionality()
	}
	if tcfg.Dims > 0 && (ic.LeafCapacity == 0 || ic.DirCapacity == 0) {
		leaf, dir, err := rtree.CapacitiesForPage(ic.PageSize, tcfg.Dims)
		if err != nil {
			return tcfg, err
		}
		tcfg.LeafCapacity, tcfg.DirCapacity = leaf, dir
	}
	if ic.LeafCapacity > 0 {
		tcfg.LeafCapacity = ic.LeafCapacity
	}
	if ic.DirCapacity > 0 {
		tcfg.DirCapacity = ic.DirCapacity
	}
	if ic.MinFill > 0 {
		tcfg.MinFill = ic.MinFill
	}
	tcfg.CheckIntegrity = ic.CheckIntegrity
	tcfg.Stats = monitor.NewIndexStats()
	return tcfg, nil
}

func (idx *Index) openStore() (rtree.NodeStore, error) {
	sc := idx.cfg.Storage
	backend := strings.ToLower(sc.Backend)
	if backend == "arena" {
		return rtree.NewMemoryStore(), nil
	}
	if backend != "memory" {
		if err := os.MkdirAll(sc.Path, 0755); err != nil {
			return nil, fmt.Errorf("core: create data dir: %w", err)
		}
	}

	var err error
	switch backend {
	case "memory":
		idx.backend = storage.NewMemoryBackend()
	case "sqlite":
		idx.backend, err = storage.NewSQLiteBackend(filepath.Join(sc.Path, pagesFile))
	case "log":
		idx.backend, err = storage.OpenPageLog(filepath.Join(sc.Path, logFile))
	case "snapshot":
		idx.backend, err = snapshot.Open(filepath.Join(sc.Path, snapshotFile))
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", rtree.ErrInvalidConfig, sc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("core: open %s backend: %w", backend, err)
	}
	return rtree.NewPagedStore(idx.backend, sc.CacheSize, idx.stats), nil
}

// OpenRelation opens the vector store named by the storage configuration.
func OpenRelation(cfg *config.Config) (relation.Iterable, error) {
	switch strings.ToLower(cfg.Storage.Relation) {
	case "", "memory":
		return relation.NewMemory(cfg.Index.Dimensions), nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("core: create data dir: %w", err)
		}
		return relation.NewSQLite(filepath.Join(cfg.Storage.Path, vectorsFile))
	}
	return nil, fmt.Errorf("%w: unknown relation %q", rtree.ErrInvalidConfig, cfg.Storage.Relation)
}

// Insert indexes an object of the relation. Objects already in the index are
// refused with ErrDuplicateObject.
func (idx *Index) Insert(id common.ObjectID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.tree.ReadOnly() {
		return storage.ErrReadOnly
	}
	vec, err := idx.rel.VectorAt(id)
	if err != nil {
		return err
	}
	if err := idx.refuseIndexed(id, vec); err != nil {
		return err
	}
	// the filter may over-report but never miss an indexed id
	idx.bloom.Add(id)
	return idx.tree.Insert(id, vec)
}

// InsertAll adds the objects in one go. An empty index is bulk loaded when a
// bulk split strategy is configured. The batch is refused as a whole when it
// repeats an id or names one already indexed.
func (idx *Index) InsertAll(ids []common.ObjectID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.tree.ReadOnly() {
		return storage.ErrReadOnly
	}
	seen := make(map[common.ObjectID]struct{}, len(ids))
	records := make([]common.Record, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %d repeated in batch", ErrDuplicateObject, id)
		}
		seen[id] = struct{}{}

		vec, err := idx.rel.VectorAt(id)
		if err != nil {
			return err
		}
		if err := idx.refuseIndexed(id, vec); err != nil {
			return err
		}
		records[i] = common.Record{ID: id, Vec: vec}
	}
	for _, id := range ids {
		idx.bloom.Add(id)
	}
	return idx.tree.BulkLoad(records)
}

func (idx *Index) refuseIndexed(id common.ObjectID, vec []float64) error {
	if !idx.bloom.Contains(id) {
		return nil
	}
	found, err := idx.tree.Contains(id, vec)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %d", ErrDuplicateObject, id)
	}
	return nil
}

// Delete removes an object. It reports false when the object is not indexed
// or unknown to the relation.
func (idx *Index) Delete(id common.ObjectID) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.bloom.Contains(id) {
		return false, nil
	}
	vec, err := idx.rel.VectorAt(id)
	if errors.Is(err, relation.ErrUnknownObject) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := idx.tree.Delete(id, vec)
	if !ok || err != nil {
		return ok, err
	}
	idx.deleted++
	if idx.deleted >= idx.rebuildAfter && idx.deleted >= idx.tree.Len() {
		if err := idx.rebuildBloom(); err != nil {
			log.Printf("[Index] Warning: membership filter rebuild failed: %v", err)
		}
	}
	return true, nil
}

// rebuildBloom refills the filter from the ids stored in the tree. The
// filter is only cleared once the walk has succeeded.
func (idx *Index) rebuildBloom() error {
	var live []common.ObjectID
	if err := idx.tree.Walk(func(e rtree.Entry) bool {
		live = append(live, e.ID)
		return true
	}); err != nil {
		return err
	}
	idx.bloom.Reset()
	for _, id := range live {
		idx.bloom.Add(id)
	}
	idx.deleted = 0
	return nil
}

func (idx *Index) RangeQuery(point []float64, radius float64) (*knn.DistanceList, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Query(idx.dist).Range(point, radius)
}

func (idx *Index) KNNQuery(point []float64, k int) (*knn.KNNList, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Query(idx.dist).KNN(point, k)
}

// KNNForID runs a KNN query at the position of a stored object. The object
// itself is part of the result.
func (idx *Index) KNNForID(id common.ObjectID, k int) (*knn.KNNList, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	vec, err := idx.rel.VectorAt(id)
	if err != nil {
		return nil, err
	}
	return idx.tree.Query(idx.dist).KNN(vec, k)
}

func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Len()
}

func (idx *Index) Check() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Check()
}

func (idx *Index) Stats() map[string]interface{} {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.stats.Snapshot()
	leafMax, leafMin, dirMax, dirMin := idx.tree.Capacities()
	s["instance_id"] = idx.tree.InstanceID().String()
	s["objects"] = idx.tree.Len()
	s["height"] = idx.tree.Height()
	s["dimensions"] = idx.tree.Dimensionality()
	s["leaf_capacity"] = fmt.Sprintf("%d..%d", leafMin, leafMax)
	s["dir_capacity"] = fmt.Sprintf("%d..%d", dirMin, dirMax)
	s["distance"] = fmt.Sprint(idx.dist)
	s["backend"] = idx.cfg.Storage.Backend
	for k, v := range idx.bloom.Stats() {
		s[k] = v
	}
	if ps, ok := idx.tree.Store().(*rtree.PagedStore); ok {
		s["cached_nodes"] = ps.Cached()
	}
	if pl, ok := idx.backend.(*storage.PageLog); ok {
		if size, err := pl.Size(); err == nil {
			s["log_bytes"] = size
		}
	}
	return s
}

// ResetStats zeroes the page and query counters and empties the node cache,
// so the following work is measured from a cold start.
func (idx *Index) ResetStats() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ps, ok := idx.tree.Store().(*rtree.PagedStore); ok {
		ps.Purge()
	}
	idx.stats.Reset()
}

// Snapshot writes the current pages to a read-only snapshot file at path.
func (idx *Index) Snapshot(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.backend == nil {
		return ErrNoPagedBackend
	}
	if err := idx.tree.Sync(); err != nil {
		return err
	}
	return snapshot.Write(path, idx.backend)
}

// Close persists the tree header and releases the backend. Page logs with
// mostly superseded images are compacted first.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.backend == nil {
		return nil
	}
	if err := idx.tree.Sync(); err != nil {
		return err
	}
	if pl, ok := idx.backend.(*storage.PageLog); ok && pl.Garbage() > compactGarbage {
		if err := pl.Compact(); err != nil {
			log.Printf("[Index] Warning: page log compaction failed: %v", err)
		}
	}
	err := idx.backend.Close()
	idx.backend = nil
	return err
}
