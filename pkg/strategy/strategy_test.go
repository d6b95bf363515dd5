package strategy

import (
	"math/rand"
	"testing"

	"rstardb/pkg/geom"

	"github.com/bits-and-blooms/bitset"
)

func box(lo, hi []float64) geom.Box {
	b, err := geom.NewBox(lo, hi)
	if err != nil {
		panic(err)
	}
	return b
}

func randomBoxes(rng *rand.Rand, n, dims int, maxSide float64) []geom.Box {
	out := make([]geom.Box, n)
	for i := range out {
		lo := make([]float64, dims)
		hi := make([]float64, dims)
		for d := 0; d < dims; d++ {
			lo[d] = rng.Float64() * 100
			hi[d] = lo[d] + rng.Float64()*maxSide
		}
		out[i] = box(lo, hi)
	}
	return out
}

func TestLeastEnlargementWithArea(t *testing.T) {
	children := []geom.Box{
		box([]float64{0, 0}, []float64{10, 10}),
		box([]float64{20, 20}, []float64{21, 21}),
		box([]float64{0, 0}, []float64{4, 4}),
	}
	// inside both 0 and 2: no enlargement either way, the smaller child wins
	if got := (LeastEnlargementWithArea{}).Choose(children, geom.Point([]float64{1, 1}), 2, 0); got != 2 {
		t.Fatalf("contained point: got child %d, want 2", got)
	}
	if got := (LeastEnlargementWithArea{}).Choose(children, geom.Point([]float64{22, 21}), 2, 0); got != 1 {
		t.Fatalf("far point: got child %d, want 1", got)
	}
	// identical children: lower index wins
	same := []geom.Box{children[1], children[1]}
	if got := (LeastEnlargementWithArea{}).Choose(same, geom.Point([]float64{0, 0}), 2, 0); got != 0 {
		t.Fatalf("tie: got child %d, want 0", got)
	}
}

func TestLeastOverlapPrefersNoNewOverlap(t *testing.T) {
	children := []geom.Box{
		box([]float64{0, 0}, []float64{4, 4}),
		box([]float64{5, 0}, []float64{9, 4}),
		box([]float64{0, 6}, []float64{9, 9}),
	}
	obj := box([]float64{4.5, 1}, []float64{4.6, 2})
	// children 0 and 1 both absorb obj without new overlap; child 1 grows less
	got := (LeastOverlap{}).Choose(children, obj, 1, 0)
	if got != 1 {
		t.Fatalf("got child %d, want 1", got)
	}

	overlapping := []geom.Box{
		box([]float64{0, 0}, []float64{5, 5}),
		box([]float64{6, 0}, []float64{10, 5}),
	}
	// enlarging child 1 down to x=2 would overlap child 0 heavily
	obj = box([]float64{2, 1}, []float64{3, 2})
	if got := (LeastOverlap{}).Choose(overlapping, obj, 1, 0); got != 0 {
		t.Fatalf("got child %d, want 0", got)
	}
}

func TestCombinedDispatch(t *testing.T) {
	c := Combined{Dir: fixedChoice(1), Leaf: fixedChoice(2)}
	if got := c.Choose(nil, geom.Box{}, 3, 2); got != 2 {
		t.Fatalf("depth+1 == height should use the leaf strategy, got %d", got)
	}
	if got := c.Choose(nil, geom.Box{}, 3, 1); got != 1 {
		t.Fatalf("upper levels should use the directory strategy, got %d", got)
	}
}

type fixedChoice int

func (f fixedChoice) Choose([]geom.Box, geom.Box, int, int) int { return int(f) }

func checkSplit(t *testing.T, mask *bitset.BitSet, n, minEntries int) {
	t.Helper()
	if mask == nil {
		t.Fatalf("split of %d entries with min %d returned nil", n, minEntries)
	}
	moved := 0
	for i := 0; i < n; i++ {
		if mask.Test(uint(i)) {
			moved++
		}
	}
	if moved < minEntries || n-moved < minEntries {
		t.Fatalf("invalid split: %d/%d with min %d", n-moved, moved, minEntries)
	}
	if mask.Count() != uint(moved) {
		t.Fatalf("mask has bits beyond the entry range")
	}
}

func TestTopologicalSplitValidity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		dims := 1 + rng.Intn(4)
		minEntries := 1 + rng.Intn(5)
		n := 2*minEntries + rng.Intn(10)
		side := 0.0
		if iter%2 == 0 {
			side = 10
		}
		boxes := randomBoxes(rng, n, dims, side)
		checkSplit(t, TopologicalSplit{}.Split(boxes, minEntries), n, minEntries)
	}
}

func TestTopologicalSplitSeparatesClusters(t *testing.T) {
	boxes := []geom.Box{
		geom.Point([]float64{0, 0}),
		geom.Point([]float64{10, 10}),
		geom.Point([]float64{1, 1}),
		geom.Point([]float64{11, 11}),
		geom.Point([]float64{0.5, 1}),
	}
	mask := TopologicalSplit{}.Split(boxes, 2)
	checkSplit(t, mask, len(boxes), 2)
	if mask.Test(1) != mask.Test(3) || mask.Test(0) != mask.Test(2) || mask.Test(0) != mask.Test(4) {
		t.Fatalf("clusters were torn apart: %v", mask)
	}
	if mask.Test(0) == mask.Test(1) {
		t.Fatalf("clusters ended up together: %v", mask)
	}
}

func TestTopologicalSplitTooFewEntries(t *testing.T) {
	if mask := (TopologicalSplit{}).Split([]geom.Box{geom.Point([]float64{0})}, 1); mask != nil {
		t.Fatalf("expected nil mask for a single entry")
	}
}

func TestFarAndCloseReinsert(t *testing.T) {
	entries := []geom.Box{
		geom.Point([]float64{0, 0}),
		geom.Point([]float64{10, 0}),
		geom.Point([]float64{5, 1}),
		geom.Point([]float64{5, -1}),
		geom.Point([]float64{-10, 0}),
		geom.Point([]float64{5, 0}),
		geom.Point([]float64{4, 0}),
		geom.Point([]float64{6, 0}),
		geom.Point([]float64{5, 0.5}),
		geom.Point([]float64{20, 0}),
	}
	page := geom.UnionAll(entries) // center (5, 0)
	far := FarReinsert{Fraction: 0.3}.Select(entries, page, len(entries))
	if len(far) != 3 {
		t.Fatalf("far: got %d candidates, want 3", len(far))
	}
	if far[0] != 4 || far[1] != 9 {
		t.Fatalf("far: got %v, want farthest first [4 9 ...]", far)
	}
	closeOrder := CloseReinsert{Fraction: 0.3}.Select(entries, page, len(entries))
	if len(closeOrder) != 3 || closeOrder[2] != 4 {
		t.Fatalf("close: got %v, want the farthest last", closeOrder)
	}
	if got := (FarReinsert{Fraction: 0.05}).Select(entries, page, len(entries)); len(got) != 0 {
		t.Fatalf("fraction below one entry should select nothing, got %v", got)
	}

	// A limit keeps the farthest entries; close order then reverses them.
	limited := CloseReinsert{Fraction: 0.3}.Select(entries, page, 2)
	if len(limited) != 2 || limited[0] != 9 || limited[1] != 4 {
		t.Fatalf("close with limit 2: got %v, want [9 4]", limited)
	}
	if got := (FarReinsert{Fraction: 0.3}).Select(entries, page, 0); len(got) != 0 {
		t.Fatalf("zero limit selected %v", got)
	}
}

func TestLimitedReinsertOncePerLevel(t *testing.T) {
	o := LimitedReinsert{Reinsert: FarReinsert{Fraction: 0.5}}
	entries := randomBoxes(rand.New(rand.NewSource(1)), 6, 2, 1)
	levels := bitset.New(4)

	if got := o.Reinsertions(entries, 1, true, levels, len(entries)); got != nil {
		t.Fatalf("root must split, got %v", got)
	}
	if got := o.Reinsertions(entries, 0, false, levels, len(entries)); len(got) != 3 {
		t.Fatalf("first overflow at level 0: got %v", got)
	}
	if got := o.Reinsertions(entries, 0, false, levels, len(entries)); got != nil {
		t.Fatalf("second overflow at level 0 must split, got %v", got)
	}
	if got := o.Reinsertions(entries, 1, false, levels, len(entries)); len(got) != 3 {
		t.Fatalf("first overflow at level 1: got %v", got)
	}
	if got := o.Reinsertions(entries, 2, false, levels, 0); got != nil || levels.Test(2) {
		t.Fatalf("zero limit must split without using up level 2, got %v", got)
	}
	if got := (SplitOnly{}).Reinsertions(entries, 2, false, bitset.New(4), len(entries)); got != nil {
		t.Fatalf("split only reinserted %v", got)
	}
}

func TestBulkSplitPartitions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	splits := []BulkSplit{OneDimSort{}, ZCurveSort{}, SortTileRecursive{}}
	for _, s := range splits {
		for iter := 0; iter < 30; iter++ {
			maxEntries := 2 + rng.Intn(12)
			minEntries := 1 + rng.Intn((maxEntries+1)/2)
			n := 1 + rng.Intn(300)
			dims := 1 + rng.Intn(3)
			boxes := randomBoxes(rng, n, dims, 0)
			parts := s.Partition(boxes, minEntries, maxEntries)

			seen := make([]bool, n)
			for _, p := range parts {
				if len(p) > maxEntries || (len(parts) > 1 && len(p) < minEntries) {
					t.Fatalf("%v: partition of %d outside [%d, %d]", s, len(p), minEntries, maxEntries)
				}
				for _, idx := range p {
					if seen[idx] {
						t.Fatalf("%v: index %d assigned twice", s, idx)
					}
					seen[idx] = true
				}
			}
			for idx, ok := range seen {
				if !ok {
					t.Fatalf("%v: index %d not assigned", s, idx)
				}
			}
		}
	}
}

func TestParseNames(t *testing.T) {
	if _, err := ParseInsertion("combined"); err != nil {
		t.Fatalf("combined: %v", err)
	}
	if _, err := ParseInsertion("quadratic"); err == nil {
		t.Fatalf("expected error for unknown insertion strategy")
	}
	if _, err := ParseSplit("topological"); err != nil {
		t.Fatalf("topological: %v", err)
	}
	o, err := ParseOverflow("limited-reinsert", "close", 0.3)
	if err != nil {
		t.Fatalf("overflow: %v", err)
	}
	if lr, ok := o.(LimitedReinsert); !ok || lr.Reinsert != (CloseReinsert{Fraction: 0.3}) {
		t.Fatalf("overflow: got %#v", o)
	}
	if _, err := ParseOverflow("limited-reinsert", "far", 1.5); err == nil {
		t.Fatalf("expected error for fraction 1.5")
	}
	if o, err := ParseOverflow("split", "", 0); err != nil || o != (SplitOnly{}) {
		t.Fatalf("split only: %v %v", o, err)
	}
	if b, err := ParseBulkSplit(""); err != nil || b != nil {
		t.Fatalf("empty bulk split: %v %v", b, err)
	}
	if b, err := ParseBulkSplit("str"); err != nil || b == nil {
		t.Fatalf("str bulk split: %v %v", b, err)
	}
}
