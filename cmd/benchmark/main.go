package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"rstardb/pkg/common"
	"rstardb/pkg/core/rtree"
	"rstardb/pkg/distance"
	"rstardb/pkg/knn"
	"rstardb/pkg/monitor"
	"rstardb/pkg/strategy"
)

func main() {
	n := flag.Int("n", 50000, "Number of points")
	dims := flag.Int("dims", 2, "Dimensionality")
	queries := flag.Int("q", 500, "Number of KNN queries")
	k := flag.Int("k", 10, "Neighbours per query")
	capacity := flag.Int("cap", 32, "Node capacity")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	recs := make([]common.Record, *n)
	for i := range recs {
		v := make(common.Vector, *dims)
		for d := range v {
			v[d] = rng.Float64() * 1000
		}
		recs[i] = common.Record{ID: common.ObjectID(i + 1), Vec: v}
	}
	points := make([][]float64, *queries)
	for i := range points {
		points[i] = recs[rng.Intn(len(recs))].Vec
	}

	fmt.Printf("R*-tree Benchmark (N=%d, dims=%d, cap=%d, k=%d)\n", *n, *dims, *capacity, *k)
	fmt.Println("---------------------------------------------------")

	builds := []struct {
		name string
		bulk strategy.BulkSplit
	}{
		{"incremental", nil},
		{"bulk one-dim", strategy.OneDimSort{}},
		{"bulk zcurve", strategy.ZCurveSort{}},
		{"bulk str", strategy.SortTileRecursive{}},
	}

	var reference *rtree.Tree
	for _, b := range builds {
		stats := monitor.NewIndexStats()
		cfg := rtree.DefaultConfig()
		cfg.LeafCapacity, cfg.DirCapacity = *capacity, *capacity
		cfg.BulkSplit = b.bulk
		cfg.Stats = stats

		tree, err := rtree.New(rtree.NewMemoryStore(), cfg)
		if err != nil {
			log.Fatalf("Create tree failed: %v", err)
		}
		start := time.Now()
		if err := tree.BulkLoad(recs); err != nil {
			log.Fatalf("Build failed: %v", err)
		}
		build := time.Since(start)

		q := tree.Query(distance.Euclidean{})
		start = time.Now()
		for _, p := range points {
			if _, err := q.KNN(p, *k); err != nil {
				log.Fatalf("KNN failed: %v", err)
			}
		}
		search := time.Since(start)

		fmt.Printf(">> %-13s build %-12v height %d | KNN %v (%.0f QPS, %.0f dist/query)\n",
			b.name, build, tree.Height(), search, float64(*queries)/search.Seconds(),
			float64(stats.DistanceCalcs)/float64(*queries))
		if reference == nil {
			reference = tree
		}
	}

	fmt.Println(">> Linear scan baseline...")
	start := time.Now()
	for _, p := range points {
		linearKNN(recs, p, *k)
	}
	scan := time.Since(start)
	fmt.Printf("   Scan time: %v | QPS: %.0f\n", scan, float64(*queries)/scan.Seconds())

	// spot-check the index against the scan
	q := reference.Query(distance.Euclidean{})
	for _, p := range points[:min(10, len(points))] {
		res, err := q.KNN(p, *k)
		if err != nil {
			log.Fatalf("KNN failed: %v", err)
		}
		want := linearKNN(recs, p, *k)
		if res.KDistance() != want.KDistance() {
			log.Fatalf("Mismatch: index k-distance %v, scan %v", res.KDistance(), want.KDistance())
		}
	}
	fmt.Println("---------------------------------------------------")
	fmt.Println("Index results match the linear scan.")
}

func linearKNN(recs []common.Record, p []float64, k int) *knn.KNNList {
	h := knn.NewHeap(k)
	dist := distance.Euclidean{}
	for _, r := range recs {
		h.Insert(dist.Distance(p, r.Vec), r.ID)
	}
	return h.ToList()
}
