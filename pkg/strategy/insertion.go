// Package strategy contains the pluggable R*-tree policies: choose-subtree,
// node split, overflow treatment and bulk partitioning. All strategies are
// stateless values operating on entry boxes only, so they can be tested
// without a tree.
package strategy

import (
	"math"

	"rstardb/pkg/geom"
)

// InsertionStrategy picks the child of a directory node to descend into.
// height is the tree height and depth the depth of the node whose children
// are offered (the root has depth 0).
type InsertionStrategy interface {
	Choose(children []geom.Box, obj geom.Box, height, depth int) int
}

// LeastEnlargementWithArea chooses the child needing the least volume
// enlargement, preferring the smaller child on ties and then the lower index.
type LeastEnlargementWithArea struct{}

func (LeastEnlargementWithArea) Choose(children []geom.Box, obj geom.Box, height, depth int) int {
	best := -1
	leastInc, leastVol := math.Inf(1), math.Inf(1)
	for i, c := range children {
		vol := c.Volume()
		inc := c.UnionVolume(obj) - vol
		if inc < leastInc || (inc == leastInc && vol < leastVol) {
			best, leastInc, leastVol = i, inc, vol
		}
	}
	return best
}

func (LeastEnlargementWithArea) String() string { return "least-enlargement" }

// LeastOverlap chooses the child whose absorption of obj increases the summed
// relative overlap with its siblings the least. Ties go to the smaller
// enlargement, then the smaller volume. It costs O(n^2) per node.
type LeastOverlap struct{}

func (LeastOverlap) Choose(children []geom.Box, obj geom.Box, height, depth int) int {
	best := -1
	leastOverlap, leastInc, leastVol := math.Inf(1), math.Inf(1), math.Inf(1)
	for i, c := range children {
		grown := c.Union(obj)
		var without, with float64
		for j, other := range children {
			if i == j {
				continue
			}
			without += geom.RelativeOverlap(c, other)
			with += geom.RelativeOverlap(grown, other)
		}
		overlapInc := with - without
		vol := c.Volume()
		inc := grown.Volume() - vol
		switch {
		case overlapInc < leastOverlap:
		case overlapInc == leastOverlap && inc < leastInc:
		case overlapInc == leastOverlap && inc == leastInc && vol < leastVol:
		default:
			continue
		}
		best, leastOverlap, leastInc, leastVol = i, overlapInc, inc, vol
	}
	return best
}

func (LeastOverlap) String() string { return "least-overlap" }

// Combined uses Leaf when the children are leaves (depth+1 == height) and
// Dir everywhere else.
type Combined struct {
	Dir  InsertionStrategy
	Leaf InsertionStrategy
}

// DefaultInsertion is the R* choose-subtree: least overlap right above the
// leaves, least enlargement higher up.
func DefaultInsertion() Combined {
	return Combined{Dir: LeastEnlargementWithArea{}, Leaf: LeastOverlap{}}
}

func (c Combined) Choose(children []geom.Box, obj geom.Box, height, depth int) int {
	if depth+1 >= height {
		return c.Leaf.Choose(children, obj, height, depth)
	}
	return c.Dir.Choose(children, obj, height, depth)
}

func (Combined) String() string { return "combined" }
