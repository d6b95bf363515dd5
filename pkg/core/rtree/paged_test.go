package rtree

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"rstardb/pkg/common"
	"rstardb/pkg/distance"
	"rstardb/pkg/geom"
	"rstardb/pkg/knn"
	"rstardb/pkg/monitor"
	"rstardb/pkg/storage"
	"rstardb/pkg/storage/snapshot"
)

func TestNodeCodec(t *testing.T) {
	leaf := &Node{ID: 3, Entries: []Entry{
		{MBR: geom.Point([]float64{1, 2}), ID: 10},
		{MBR: geom.Point([]float64{-3.5, 0}), ID: 11},
	}}
	box, _ := geom.NewBox([]float64{0, 0}, []float64{4, 5})
	dir := &Node{ID: 4, Level: 2, Entries: []Entry{{MBR: box, Child: 7}}}

	for _, n := range []*Node{leaf, dir} {
		data, err := encodeNode(n)
		if err != nil {
			t.Fatalf("encode %v: %v", n, err)
		}
		got, err := decodeNode(n.ID, data)
		if err != nil {
			t.Fatalf("decode %v: %v", n, err)
		}
		if got.ID != n.ID || got.Level != n.Level || len(got.Entries) != len(n.Entries) {
			t.Fatalf("decoded %v, want %v", got, n)
		}
		for i := range n.Entries {
			w, g := n.Entries[i], got.Entries[i]
			if !w.MBR.Equal(g.MBR) || w.ID != g.ID || w.Child != g.Child {
				t.Fatalf("entry %d: got %+v, want %+v", i, g, w)
			}
		}
	}

	if _, err := decodeNode(1, []byte{0xc1}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage page: expected ErrCorrupt, got %v", err)
	}
}

func buildPaged(t *testing.T, backend storage.Backend, cacheSize int, recs []common.Record) (*Tree, *monitor.IndexStats) {
	t.Helper()
	stats := monitor.NewIndexStats()
	cfg := testConfig(6)
	cfg.Stats = stats
	tree := mustTree(t, NewPagedStore(backend, cacheSize, stats), cfg)
	insertAll(t, tree, recs)
	for _, r := range recs[:len(recs)/4] {
		if ok, err := tree.Delete(r.ID, r.Vec); !ok || err != nil {
			t.Fatalf("delete %d: %v, %v", r.ID, ok, err)
		}
	}
	if err := tree.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	return tree, stats
}

// knnAnswers records the 5 nearest neighbours of random points so they can be
// compared after the backend behind tr has been closed.
func knnAnswers(t *testing.T, tr *Tree, rng *rand.Rand) ([][]float64, [][]knn.Pair) {
	t.Helper()
	q := tr.Query(distance.Euclidean{})
	points := make([][]float64, 10)
	answers := make([][]knn.Pair, len(points))
	for i := range points {
		points[i] = []float64{rng.Float64() * 100, rng.Float64() * 100}
		res, err := q.KNN(points[i], 5)
		if err != nil {
			t.Fatalf("knn: %v", err)
		}
		answers[i] = res.Pairs()
	}
	return points, answers
}

func assertKNNAnswers(t *testing.T, tr *Tree, points [][]float64, answers [][]knn.Pair) {
	t.Helper()
	q := tr.Query(distance.Euclidean{})
	for i, p := range points {
		res, err := q.KNN(p, 5)
		if err != nil {
			t.Fatalf("knn after reopen: %v", err)
		}
		samePairs(t, "reopened knn", res.Pairs(), answers[i])
	}
}

func assertSameKNN(t *testing.T, a, b *Tree, rng *rand.Rand) {
	t.Helper()
	points, answers := knnAnswers(t, a, rng)
	assertKNNAnswers(t, b, points, answers)
}

func TestPagedStoreMemoryBackend(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	recs := randomRecords(rng, 300, 2, 0)
	backend := storage.NewMemoryBackend()
	// a tiny cache forces evictions and page reads during updates
	tree, stats := buildPaged(t, backend, 4, recs)
	if stats.PageWrites == 0 || stats.PageReads == 0 {
		t.Fatalf("page traffic not counted: %v", stats.Snapshot())
	}

	reopened, err := Open(NewPagedStore(backend, 0, nil), DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Len() != tree.Len() || reopened.Height() != tree.Height() || reopened.InstanceID() != tree.InstanceID() {
		t.Fatalf("reopened len %d height %d id %v", reopened.Len(), reopened.Height(), reopened.InstanceID())
	}
	if err := reopened.Check(); err != nil {
		t.Fatalf("check reopened: %v", err)
	}
	assertSameKNN(t, tree, reopened, rng)
}

func TestPagedStoreSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	backend, err := storage.NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	rng := rand.New(rand.NewSource(32))
	tree, _ := buildPaged(t, backend, 64, randomRecords(rng, 200, 2, 0))
	points, answers := knnAnswers(t, tree, rng)
	backend.Close()

	backend, err = storage.NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer backend.Close()
	reopened, err := Open(NewPagedStore(backend, 64, nil), DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := reopened.Check(); err != nil {
		t.Fatalf("check reopened: %v", err)
	}
	assertKNNAnswers(t, reopened, points, answers)

	if err := reopened.Insert(9999, []float64{1, 1}); err != nil {
		t.Fatalf("insert after reopen: %v", err)
	}
}

func TestPagedStorePageLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.log")
	backend, err := storage.OpenPageLog(path)
	if err != nil {
		t.Fatalf("page log: %v", err)
	}
	rng := rand.New(rand.NewSource(33))
	tree, _ := buildPaged(t, backend, 16, randomRecords(rng, 200, 2, 0))
	if backend.Garbage() == 0 {
		t.Errorf("updates should leave superseded page images")
	}
	points, answers := knnAnswers(t, tree, rng)
	backend.Close()

	backend, err = storage.OpenPageLog(path)
	if err != nil {
		t.Fatalf("reopen page log: %v", err)
	}
	defer backend.Close()
	reopened, err := Open(NewPagedStore(backend, 16, nil), DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := reopened.Check(); err != nil {
		t.Fatalf("check reopened: %v", err)
	}
	assertKNNAnswers(t, reopened, points, answers)
}

func TestSnapshotIsReadOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(34))
	recs := randomRecords(rng, 150, 2, 0)
	backend := storage.NewMemoryBackend()
	tree, _ := buildPaged(t, backend, 32, recs)

	path := filepath.Join(t.TempDir(), "tree.snap")
	if err := snapshot.Write(path, backend); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	snap, err := snapshot.Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()

	store := NewPagedStore(snap, 32, nil)
	if _, err := New(store, DefaultConfig()); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("new on snapshot: expected ErrReadOnly, got %v", err)
	}
	ro, err := Open(store, DefaultConfig())
	if err != nil {
		t.Fatalf("open tree on snapshot: %v", err)
	}
	assertSameKNN(t, tree, ro, rng)

	if err := ro.Insert(5000, []float64{1, 1}); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("insert: expected ErrReadOnly, got %v", err)
	}
	last := recs[len(recs)-1]
	if _, err := ro.Delete(last.ID, last.Vec); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("delete: expected ErrReadOnly, got %v", err)
	}
	if err := ro.BulkLoad(recs[:1]); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("bulk load: expected ErrReadOnly, got %v", err)
	}
	if ro.Len() != tree.Len() {
		t.Fatalf("refused mutations changed the tree: %d vs %d", ro.Len(), tree.Len())
	}
}

func TestOpenWithoutHeader(t *testing.T) {
	if _, err := Open(NewPagedStore(storage.NewMemoryBackend(), 0, nil), DefaultConfig()); !errors.Is(err, storage.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestBulkLoadWritesSQLiteBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulk.db")
	backend, err := storage.NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	stats := monitor.NewIndexStats()
	cfg := testConfig(8)
	cfg.Stats = stats
	store := NewPagedStore(backend, 16, stats)
	tree := mustTree(t, store, cfg)

	rng := rand.New(rand.NewSource(35))
	recs := randomRecords(rng, 500, 2, 0)
	written := stats.PageWrites
	if err := tree.BulkLoad(recs); err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	nodes := countNodes(t, tree, tree.Root())
	if got := stats.PageWrites - written; got != uint64(nodes) {
		t.Fatalf("bulk load wrote %d pages for %d nodes", got, nodes)
	}
	if err := tree.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	points, answers := knnAnswers(t, tree, rng)
	backend.Close()

	backend, err = storage.NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer backend.Close()
	reopened, err := Open(NewPagedStore(backend, 16, nil), DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Len() != len(recs) {
		t.Fatalf("reopened len %d", reopened.Len())
	}
	if err := reopened.Check(); err != nil {
		t.Fatalf("check reopened: %v", err)
	}
	assertKNNAnswers(t, reopened, points, answers)
}

func countNodes(t *testing.T, tree *Tree, id storage.PageID) int {
	t.Helper()
	n, err := tree.Store().ReadNode(id)
	if err != nil {
		t.Fatalf("read node %d: %v", id, err)
	}
	count := 1
	if !n.IsLeaf() {
		for _, e := range n.Entries {
			count += countNodes(t, tree, e.Child)
		}
	}
	return count
}
