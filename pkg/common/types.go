package common

import "fmt"

// ObjectID identifies an object of the indexed relation.
type ObjectID int64

// Vector holds the coordinates of a point, one value per dimension.
type Vector []float64

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Record is the unit stored in a relation.
type Record struct {
	ID  ObjectID
	Vec Vector
}

// String 方便调试打印
func (r *Record) String() string {
	return fmt.Sprintf("Record{ID: %d, Dim: %d}", r.ID, len(r.Vec))
}
