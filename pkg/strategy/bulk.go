package strategy

import (
	"math"
	"sort"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"
)

// BulkSplit orders and cuts a set of boxes into node-sized partitions for
// bottom-up loading. Every partition holds between minEntries and maxEntries
// positions, except a single partition which may hold fewer than minEntries.
type BulkSplit interface {
	Partition(boxes []geom.Box, minEntries, maxEntries int) [][]int
}

// OneDimSort orders by the center coordinate on dimension Dim.
type OneDimSort struct {
	Dim int
}

func (s OneDimSort) Partition(boxes []geom.Box, minEntries, maxEntries int) [][]int {
	centers := centersOf(boxes)
	order := identity(len(boxes))
	sortByCoord(centers, order, s.Dim)
	return trivialPartition(order, minEntries, maxEntries)
}

func (OneDimSort) String() string { return "one-dim-sort" }

// ZCurveSort orders the box centers along a Z-order (Morton) curve over their
// common bounding box.
type ZCurveSort struct{}

func (ZCurveSort) Partition(boxes []geom.Box, minEntries, maxEntries int) [][]int {
	if len(boxes) == 0 {
		return nil
	}
	centers := centersOf(boxes)
	dims := len(centers[0])
	if dims > common.MaxCodeBits {
		dims = common.MaxCodeBits
	}
	bits := common.BitsPerDim(dims)

	lo := make([]float64, dims)
	hi := make([]float64, dims)
	for d := 0; d < dims; d++ {
		lo[d], hi[d] = math.Inf(1), math.Inf(-1)
	}
	for _, c := range centers {
		for d := 0; d < dims; d++ {
			lo[d] = math.Min(lo[d], c[d])
			hi[d] = math.Max(hi[d], c[d])
		}
	}

	codes := make([]uint64, len(centers))
	cells := make([]uint32, dims)
	for i, c := range centers {
		for d := 0; d < dims; d++ {
			cells[d] = common.Quantize(c[d], lo[d], hi[d], bits)
		}
		// dims*bits never exceeds the code width here
		codes[i], _ = common.Interleave(cells, bits)
	}

	order := identity(len(boxes))
	sort.SliceStable(order, func(i, j int) bool {
		return codes[order[i]] < codes[order[j]]
	})
	return trivialPartition(order, minEntries, maxEntries)
}

func (ZCurveSort) String() string { return "zcurve" }

// SortTileRecursive is the STR packing order: sort by the first dimension,
// cut into slabs, sort every slab by the next dimension, and so on.
type SortTileRecursive struct{}

func (SortTileRecursive) Partition(boxes []geom.Box, minEntries, maxEntries int) [][]int {
	if len(boxes) == 0 {
		return nil
	}
	centers := centersOf(boxes)
	order := identity(len(boxes))
	strOrder(centers, order, 0, len(centers[0]), maxEntries)
	return trivialPartition(order, minEntries, maxEntries)
}

func (SortTileRecursive) String() string { return "str" }

func strOrder(centers [][]float64, order []int, dim, dims, maxEntries int) {
	sortByCoord(centers, order, dim)
	if dim+1 >= dims || len(order) <= maxEntries {
		return
	}
	pages := int(math.Ceil(float64(len(order)) / float64(maxEntries)))
	slabs := int(math.Ceil(math.Pow(float64(pages), 1/float64(dims-dim))))
	if slabs < 1 {
		slabs = 1
	}
	slabSize := int(math.Ceil(float64(len(order)) / float64(slabs)))
	for start := 0; start < len(order); start += slabSize {
		end := start + slabSize
		if end > len(order) {
			end = len(order)
		}
		strOrder(centers, order[start:end], dim+1, dims, maxEntries)
	}
}

// trivialPartition cuts order into ceil(n/maxEntries) runs of near-equal
// size, which keeps every run within [minEntries, maxEntries] as long as
// 2*minEntries <= maxEntries+1.
func trivialPartition(order []int, minEntries, maxEntries int) [][]int {
	n := len(order)
	if n == 0 {
		return nil
	}
	parts := (n + maxEntries - 1) / maxEntries
	out := make([][]int, 0, parts)
	start := 0
	for p := 0; p < parts; p++ {
		end := (p + 1) * n / parts
		if p == parts-1 {
			end = n
		}
		out = append(out, order[start:end:end])
		start = end
	}
	return out
}

func centersOf(boxes []geom.Box) [][]float64 {
	out := make([][]float64, len(boxes))
	for i, b := range boxes {
		out[i] = b.Center()
	}
	return out
}

func sortByCoord(centers [][]float64, order []int, d int) {
	sort.SliceStable(order, func(i, j int) bool {
		return centers[order[i]][d] < centers[order[j]][d]
	})
}
