package rtree

import (
	"fmt"
	"math"

	"rstardb/pkg/distance"
	"rstardb/pkg/geom"
	"rstardb/pkg/knn"
	"rstardb/pkg/storage"

	"github.com/tidwall/tinyqueue"
)

// Query runs range and nearest-neighbour searches against a tree with one
// distance function. It must not be used while the tree is being modified.
type Query struct {
	tree *Tree
	dist distance.Function
}

func (t *Tree) Query(dist distance.Function) *Query {
	if dist == nil {
		dist = distance.Euclidean{}
	}
	return &Query{tree: t, dist: dist}
}

type queueItem struct {
	page  storage.PageID
	bound float64
}

func (item *queueItem) Less(b tinyqueue.Item) bool {
	return item.bound < b.(*queueItem).bound
}

func (q *Query) checkPoint(point []float64) (bool, error) {
	if q.tree.size == 0 {
		return false, nil
	}
	if len(point) != q.tree.dims {
		return false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(point), q.tree.dims)
	}
	return true, nil
}

// Range returns every object within radius of point, ascending by distance.
func (q *Query) Range(point []float64, radius float64) (*knn.DistanceList, error) {
	q.tree.stats.RecordRange()
	result := knn.NewDistanceList(0)
	if math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: radius is NaN", ErrInvalidArgument)
	}
	ok, err := q.checkPoint(point)
	if !ok || err != nil {
		return result, err
	}

	pbox := geom.Point(point)
	calcs := 0
	stack := []storage.PageID{q.tree.root}
	for len(stack) > 0 {
		page := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, err := q.tree.store.ReadNode(page)
		if err != nil {
			return nil, err
		}
		for _, e := range node.Entries {
			calcs++
			if node.IsLeaf() {
				if d := q.dist.Distance(point, e.MBR.Min); d <= radius {
					result.Add(d, e.ID)
				}
			} else if q.dist.MinDist(pbox, e.MBR) <= radius {
				stack = append(stack, e.Child)
			}
		}
	}
	q.tree.stats.RecordDistances(calcs)
	result.Sort()
	return result, nil
}

// KNN returns the k nearest objects of point plus every object tied with
// the k-th distance. Subtrees are visited best-first by MinDist and pruned
// once their bound exceeds the current k-distance.
func (q *Query) KNN(point []float64, k int) (*knn.KNNList, error) {
	q.tree.stats.RecordKNN()
	if k < 1 {
		return nil, fmt.Errorf("%w: k = %d", ErrInvalidArgument, k)
	}
	heap := knn.NewHeap(k)
	ok, err := q.checkPoint(point)
	if !ok || err != nil {
		if err != nil {
			return nil, err
		}
		return heap.ToList(), nil
	}

	pbox := geom.Point(point)
	calcs := 0
	kdist := math.Inf(1)
	queue := tinyqueue.New(nil)
	queue.Push(&queueItem{page: q.tree.root})
	for queue.Len() > 0 {
		item := queue.Pop().(*queueItem)
		if item.bound > kdist {
			break
		}
		node, err := q.tree.store.ReadNode(item.page)
		if err != nil {
			return nil, err
		}
		for _, e := range node.Entries {
			calcs++
			if node.IsLeaf() {
				if d := q.dist.Distance(point, e.MBR.Min); d <= kdist {
					kdist = heap.Insert(d, e.ID)
				}
				continue
			}
			if bound := q.dist.MinDist(pbox, e.MBR); bound <= kdist {
				queue.Push(&queueItem{page: e.Child, bound: bound})
			}
		}
	}
	q.tree.stats.RecordDistances(calcs)
	return heap.ToList(), nil
}
