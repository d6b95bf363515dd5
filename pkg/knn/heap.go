package knn

import (
	"container/heap"
	"math"

	"rstardb/pkg/common"
)

// pairMaxHeap keeps the largest pair on top.
type pairMaxHeap []Pair

func (h pairMaxHeap) Len() int           { return len(h) }
func (h pairMaxHeap) Less(i, j int) bool { return h[j].Less(h[i]) }
func (h pairMaxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pairMaxHeap) Push(x any) { *h = append(*h, x.(Pair)) }

func (h *pairMaxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Heap collects the k best pairs of a search plus every pair tied with the
// current k-th distance, so its size may exceed k. It is not safe for
// concurrent use.
type Heap struct {
	k    int
	top  pairMaxHeap
	ties []Pair
}

func NewHeap(k int) *Heap {
	if k < 1 {
		panic("knn: heap size must be positive")
	}
	return &Heap{k: k, top: make(pairMaxHeap, 0, k)}
}

func (h *Heap) K() int { return h.k }

// Len counts held pairs, ties included.
func (h *Heap) Len() int { return len(h.top) + len(h.ties) }

// KDistance is the pruning threshold: the k-th smallest distance seen so far,
// or +Inf while fewer than k pairs are held.
func (h *Heap) KDistance() float64 {
	if len(h.top) < h.k {
		return math.Inf(1)
	}
	return h.top[0].Dist
}

// Insert offers a pair and returns the updated k-distance.
func (h *Heap) Insert(dist float64, id common.ObjectID) float64 {
	p := Pair{Dist: dist, ID: id}
	if len(h.top) < h.k {
		heap.Push(&h.top, p)
		return h.KDistance()
	}
	kdist := h.top[0].Dist
	if dist > kdist {
		return kdist
	}
	if dist == kdist {
		h.ties = append(h.ties, p)
		return kdist
	}
	prev := h.top[0]
	h.top[0] = p
	heap.Fix(&h.top, 0)
	if h.top[0].Dist < prev.Dist {
		// the boundary moved inwards, old ties are out
		h.ties = h.ties[:0]
	} else {
		h.ties = append(h.ties, prev)
	}
	return h.top[0].Dist
}

// ToList finalizes the heap into an ascending KNN list. The heap stays usable.
func (h *Heap) ToList() *KNNList {
	pairs := make([]Pair, 0, h.Len())
	pairs = append(pairs, h.top...)
	pairs = append(pairs, h.ties...)
	sortPairs(pairs)
	return &KNNList{k: h.k, pairs: pairs}
}
