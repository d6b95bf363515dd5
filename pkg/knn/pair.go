// Package knn holds the result containers of the query engine: distance/id
// pairs, the tied top-bounded heap used while searching, and the finalized
// KNN and range lists handed back to callers.
package knn

import (
	"fmt"
	"sort"

	"rstardb/pkg/common"
)

// Pair is an object id with its distance to a query.
type Pair struct {
	Dist float64
	ID   common.ObjectID
}

// Less orders by distance, then by id.
func (p Pair) Less(o Pair) bool {
	if p.Dist != o.Dist {
		return p.Dist < o.Dist
	}
	return p.ID < o.ID
}

func (p Pair) String() string {
	return fmt.Sprintf("%d@%g", p.ID, p.Dist)
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
}
