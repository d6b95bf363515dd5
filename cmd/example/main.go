package main

import (
	"fmt"
	"log"
	"time"

	"rstardb/pkg/common"
	"rstardb/pkg/core/rtree"
	"rstardb/pkg/distance"
)

func main() {
	cfg := rtree.DefaultConfig()
	cfg.LeafCapacity, cfg.DirCapacity = 2, 2
	cfg.CheckIntegrity = true

	store := rtree.NewMemoryStore()
	tree, err := rtree.New(store, cfg)
	if err != nil {
		log.Fatalf("Create failed: %v", err)
	}

	points := [][]float64{{0, 0}, {1, 1}, {10, 10}, {11, 11}}
	start := time.Now()
	for i, p := range points {
		if err := tree.Insert(common.ObjectID(i+1), p); err != nil {
			log.Fatalf("Insert failed: %v", err)
		}
	}
	fmt.Printf("Inserted %d points in %v, height %d\n", tree.Len(), time.Since(start), tree.Height())

	root, err := store.ReadNode(tree.Root())
	if err != nil {
		log.Fatalf("Read root failed: %v", err)
	}
	for _, e := range root.Entries {
		child, err := store.ReadNode(e.Child)
		if err != nil {
			log.Fatalf("Read child failed: %v", err)
		}
		fmt.Printf("  %v holds", e.MBR)
		for _, ce := range child.Entries {
			fmt.Printf(" [%d]%v", ce.ID, ce.MBR.Min)
		}
		fmt.Println()
	}

	query := []float64{0.5, 0.5}
	res, err := tree.Query(distance.Euclidean{}).KNN(query, 2)
	if err != nil {
		log.Fatalf("KNN failed: %v", err)
	}
	fmt.Printf("KNN(%v, 2):\n", query)
	for _, p := range res.Pairs() {
		fmt.Printf("  %v\n", p)
	}

	ok, err := tree.Delete(3, points[2])
	if err != nil {
		log.Fatalf("Delete failed: %v", err)
	}
	fmt.Printf("Deleted 3: %v, %d left, height %d\n", ok, tree.Len(), tree.Height())
}
