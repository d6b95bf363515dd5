package strategy

import (
	"sort"

	"rstardb/pkg/distance"
	"rstardb/pkg/geom"
)

// DefaultReinsertFraction is the share of an overflowing node that forced
// reinsertion removes unless configured otherwise.
const DefaultReinsertFraction = 0.3

// ReinsertStrategy selects at most limit entries of an overflowing node that
// are removed and inserted again, in the order they are to be reinserted.
type ReinsertStrategy interface {
	Select(entries []geom.Box, page geom.Box, limit int) []int
}

// FarReinsert removes the Fraction of entries whose centers lie farthest
// from the page center and reinserts the farthest first.
type FarReinsert struct {
	Fraction float64
}

func (r FarReinsert) Select(entries []geom.Box, page geom.Box, limit int) []int {
	return farthest(entries, page, r.Fraction, limit)
}

func (FarReinsert) String() string { return "far" }

// CloseReinsert removes the same entries as FarReinsert but reinserts the
// one closest to the center first.
type CloseReinsert struct {
	Fraction float64
}

func (r CloseReinsert) Select(entries []geom.Box, page geom.Box, limit int) []int {
	cands := farthest(entries, page, r.Fraction, limit)
	for i, j := 0, len(cands)-1; i < j; i, j = i+1, j-1 {
		cands[i], cands[j] = cands[j], cands[i]
	}
	return cands
}

func (CloseReinsert) String() string { return "close" }

func farthest(entries []geom.Box, page geom.Box, fraction float64, limit int) []int {
	num := int(fraction * float64(len(entries)))
	if num > len(entries) {
		num = len(entries)
	}
	if num > limit {
		num = limit
	}
	if num <= 0 {
		return nil
	}
	center := page.Center()
	dist := make([]float64, len(entries))
	for i, e := range entries {
		dist[i] = distance.SquaredEuclidean{}.Distance(e.Center(), center)
	}
	order := identity(len(entries))
	sort.SliceStable(order, func(i, j int) bool {
		return dist[order[i]] > dist[order[j]]
	})
	return order[:num]
}
