package strategy

import (
	"rstardb/pkg/geom"

	"github.com/bits-and-blooms/bitset"
)

// OverflowTreatment decides how an overflowing node is resolved. It returns
// the positions of the entries to reinsert, or nil when the node has to be
// split. At most limit positions are returned. reinserted belongs to the current top-level insertion and records
// the levels (0 = leaf) that already went through forced reinsertion.
type OverflowTreatment interface {
	Reinsertions(entries []geom.Box, level int, isRoot bool, reinserted *bitset.BitSet, limit int) []int
}

// LimitedReinsert performs forced reinsertion at most once per level and
// insertion, and never at the root.
type LimitedReinsert struct {
	Reinsert ReinsertStrategy
}

func (o LimitedReinsert) Reinsertions(entries []geom.Box, level int, isRoot bool, reinserted *bitset.BitSet, limit int) []int {
	if isRoot || level < 0 || limit <= 0 {
		return nil
	}
	if reinserted.Test(uint(level)) {
		return nil
	}
	reinserted.Set(uint(level))
	return o.Reinsert.Select(entries, geom.UnionAll(entries), limit)
}

func (LimitedReinsert) String() string { return "limited-reinsert" }

// SplitOnly always splits.
type SplitOnly struct{}

func (SplitOnly) Reinsertions([]geom.Box, int, bool, *bitset.BitSet, int) []int { return nil }

func (SplitOnly) String() string { return "split" }
