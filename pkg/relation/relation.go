// Package relation provides the vector stores the index reads object
// coordinates from.
package relation

import (
	"errors"
	"fmt"

	"rstardb/pkg/common"

	"github.com/google/btree"
)

var (
	ErrUnknownObject     = errors.New("relation: unknown object")
	ErrDimensionMismatch = errors.New("relation: dimension mismatch")
)

// Relation resolves object ids to coordinates. Returned vectors must not be
// modified by the caller.
type Relation interface {
	VectorAt(id common.ObjectID) (common.Vector, error)
	Dimensionality() int
}

// Iterable is a relation that can enumerate its records in id order.
type Iterable interface {
	Relation
	Ascend(fn func(rec common.Record) bool) error
	Len() int
}

// Memory keeps vectors in an ordered in-memory tree. Not safe for concurrent
// writers.
type Memory struct {
	tree *btree.BTreeG[common.Record]
	dims int
}

// NewMemory creates an empty relation. A dims of 0 adopts the dimensionality
// of the first vector stored.
func NewMemory(dims int) *Memory {
	return &Memory{
		tree: btree.NewG(32, func(a, b common.Record) bool { return a.ID < b.ID }),
		dims: dims,
	}
}

func (m *Memory) Put(id common.ObjectID, vec []float64) error {
	if err := checkDims(&m.dims, len(vec)); err != nil {
		return err
	}
	m.tree.ReplaceOrInsert(common.Record{ID: id, Vec: common.Vector(vec).Clone()})
	return nil
}

func (m *Memory) VectorAt(id common.ObjectID) (common.Vector, error) {
	rec, ok := m.tree.Get(common.Record{ID: id})
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	return rec.Vec, nil
}

func (m *Memory) Remove(id common.ObjectID) bool {
	_, ok := m.tree.Delete(common.Record{ID: id})
	return ok
}

func (m *Memory) Ascend(fn func(rec common.Record) bool) error {
	m.tree.Ascend(func(rec common.Record) bool {
		return fn(rec)
	})
	return nil
}

func (m *Memory) Len() int { return m.tree.Len() }

func (m *Memory) Dimensionality() int { return m.dims }

func checkDims(dims *int, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if *dims == 0 {
		*dims = n
		return nil
	}
	if *dims != n {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, *dims)
	}
	return nil
}

// IDs collects the ids of an iterable relation in ascending order.
func IDs(rel Iterable) ([]common.ObjectID, error) {
	ids := make([]common.ObjectID, 0, rel.Len())
	err := rel.Ascend(func(rec common.Record) bool {
		ids = append(ids, rec.ID)
		return true
	})
	return ids, err
}
