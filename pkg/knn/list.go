package knn

import (
	"math"

	"rstardb/pkg/common"
)

// KNNList is a finalized, ascending k-nearest-neighbour result. It holds at
// least min(k, n) pairs and every pair tied with the k-th distance.
type KNNList struct {
	k     int
	pairs []Pair
}

// NewKNNList builds a KNN list from the pairs of a full scan.
func NewKNNList(pairs []Pair, k int) *KNNList {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sortPairs(sorted)
	return (&KNNList{k: len(sorted), pairs: sorted}).SubList(k)
}

func (l *KNNList) K() int { return l.k }

func (l *KNNList) Len() int { return len(l.pairs) }

func (l *KNNList) At(i int) Pair { return l.pairs[i] }

// KDistance is the distance of the k-th neighbour, +Inf if there are fewer.
func (l *KNNList) KDistance() float64 {
	if l.k < 1 || len(l.pairs) < l.k {
		return math.Inf(1)
	}
	return l.pairs[l.k-1].Dist
}

// SubList cuts the list to its first k pairs, extended by every following
// pair tied with the k-th distance.
func (l *KNNList) SubList(k int) *KNNList {
	if k < 1 {
		return &KNNList{k: k}
	}
	if k >= len(l.pairs) {
		return &KNNList{k: k, pairs: l.pairs}
	}
	cut := k
	for cut < len(l.pairs) && l.pairs[cut].Dist == l.pairs[k-1].Dist {
		cut++
	}
	return &KNNList{k: k, pairs: l.pairs[:cut:cut]}
}

// Pairs returns a copy of the result pairs.
func (l *KNNList) Pairs() []Pair {
	out := make([]Pair, len(l.pairs))
	copy(out, l.pairs)
	return out
}

func (l *KNNList) IDs() []common.ObjectID {
	return ids(l.pairs)
}

// DistanceList accumulates range query results. Sort finalizes it.
type DistanceList struct {
	pairs []Pair
}

func NewDistanceList(capacity int) *DistanceList {
	return &DistanceList{pairs: make([]Pair, 0, capacity)}
}

func (l *DistanceList) Add(dist float64, id common.ObjectID) {
	l.pairs = append(l.pairs, Pair{Dist: dist, ID: id})
}

func (l *DistanceList) Sort() { sortPairs(l.pairs) }

func (l *DistanceList) Len() int { return len(l.pairs) }

func (l *DistanceList) At(i int) Pair { return l.pairs[i] }

func (l *DistanceList) Pairs() []Pair {
	out := make([]Pair, len(l.pairs))
	copy(out, l.pairs)
	return out
}

func (l *DistanceList) IDs() []common.ObjectID {
	return ids(l.pairs)
}

func ids(pairs []Pair) []common.ObjectID {
	out := make([]common.ObjectID, len(pairs))
	for i, p := range pairs {
		out[i] = p.ID
	}
	return out
}
