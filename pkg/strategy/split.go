package strategy

import (
	"math"
	"sort"

	"rstardb/pkg/geom"

	"github.com/bits-and-blooms/bitset"
)

// SplitStrategy partitions the entries of an overfull node into two groups
// of at least minEntries each. Set bits mark the entries moving to the new
// sibling. A nil result means no valid partition exists.
type SplitStrategy interface {
	Split(entries []geom.Box, minEntries int) *bitset.BitSet
}

// TopologicalSplit is the R* split: the axis minimizing the summed perimeter
// over all candidate distributions, then the distribution on that axis with
// the least relative overlap, smaller total volume on ties.
type TopologicalSplit struct{}

func (TopologicalSplit) String() string { return "topological" }

func (TopologicalSplit) Split(entries []geom.Box, minEntries int) *bitset.BitSet {
	n := len(entries)
	if minEntries < 1 {
		minEntries = 1
	}
	if n < 2*minEntries {
		return nil
	}

	axis := chooseSplitAxis(entries, minEntries)

	var bestOrder []int
	bestPoint := -1
	minOverlap, minVolume := math.Inf(1), math.Inf(1)
	for _, order := range axisSortings(entries, axis) {
		pre := geom.PrefixUnions(entries, order)
		suf := geom.SuffixUnions(entries, order)
		for k := minEntries; k <= n-minEntries; k++ {
			left, right := pre[k-1], suf[k]
			overlap := geom.RelativeOverlap(left, right)
			vol := left.Volume() + right.Volume()
			if overlap < minOverlap || (overlap == minOverlap && vol < minVolume) {
				minOverlap, minVolume = overlap, vol
				bestOrder, bestPoint = order, k
			}
		}
	}
	if bestPoint < 0 {
		return nil
	}

	mask := bitset.New(uint(n))
	for _, idx := range bestOrder[bestPoint:] {
		mask.Set(uint(idx))
	}
	return mask
}

func chooseSplitAxis(entries []geom.Box, minEntries int) int {
	n := len(entries)
	axis := 0
	minSum := math.Inf(1)
	for d := 0; d < entries[0].Dim(); d++ {
		sum := 0.0
		for _, order := range axisSortings(entries, d) {
			pre := geom.PrefixUnions(entries, order)
			suf := geom.SuffixUnions(entries, order)
			for k := minEntries; k <= n-minEntries; k++ {
				sum += pre[k-1].Perimeter() + suf[k].Perimeter()
			}
		}
		if sum < minSum {
			minSum, axis = sum, d
		}
	}
	return axis
}

// axisSortings returns the entry order by lower bound and by upper bound on
// dimension d. Equal keys keep their input order.
func axisSortings(entries []geom.Box, d int) [2][]int {
	byMin := identity(len(entries))
	sort.SliceStable(byMin, func(i, j int) bool {
		return entries[byMin[i]].Min[d] < entries[byMin[j]].Min[d]
	})
	byMax := identity(len(entries))
	sort.SliceStable(byMax, func(i, j int) bool {
		return entries[byMax[i]].Max[d] < entries[byMax[j]].Max[d]
	})
	return [2][]int{byMin, byMax}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
