// Package geom provides axis-aligned minimum bounding boxes (MBRs) and the
// measures the R*-tree strategies are built from. Box values are treated as
// immutable: every operation returns a fresh box.
package geom

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidBox = errors.New("geom: invalid box")

// Box is an axis-aligned bounding box with Min[d] <= Max[d] for every d.
type Box struct {
	Min []float64
	Max []float64
}

// NewBox validates and copies the corner coordinates.
func NewBox(lo, hi []float64) (Box, error) {
	if len(lo) != len(hi) || len(lo) == 0 {
		return Box{}, fmt.Errorf("%w: corner dimensions %d and %d", ErrInvalidBox, len(lo), len(hi))
	}
	for d := range lo {
		if math.IsNaN(lo[d]) || math.IsNaN(hi[d]) || lo[d] > hi[d] {
			return Box{}, fmt.Errorf("%w: dimension %d has [%g, %g]", ErrInvalidBox, d, lo[d], hi[d])
		}
	}
	return Box{Min: clone(lo), Max: clone(hi)}, nil
}

// Point returns the degenerate box of a single point.
func Point(p []float64) Box {
	return Box{Min: clone(p), Max: clone(p)}
}

func clone(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func (b Box) Dim() int { return len(b.Min) }

func (b Box) IsEmpty() bool { return len(b.Min) == 0 }

func (b Box) Clone() Box {
	return Box{Min: clone(b.Min), Max: clone(b.Max)}
}

// Volume is the product of the side lengths.
func (b Box) Volume() float64 {
	if b.IsEmpty() {
		return 0
	}
	v := 1.0
	for d := range b.Min {
		v *= b.Max[d] - b.Min[d]
	}
	return v
}

// Perimeter is the sum of the side lengths (the R* margin measure).
func (b Box) Perimeter() float64 {
	p := 0.0
	for d := range b.Min {
		p += b.Max[d] - b.Min[d]
	}
	return p
}

func (b Box) Center() []float64 {
	c := make([]float64, len(b.Min))
	for d := range b.Min {
		c[d] = (b.Min[d] + b.Max[d]) / 2
	}
	return c
}

// Union returns the smallest box enclosing both boxes. An empty box is the
// identity element.
func (b Box) Union(o Box) Box {
	if b.IsEmpty() {
		return o.Clone()
	}
	if o.IsEmpty() {
		return b.Clone()
	}
	u := Box{Min: make([]float64, len(b.Min)), Max: make([]float64, len(b.Max))}
	for d := range b.Min {
		u.Min[d] = math.Min(b.Min[d], o.Min[d])
		u.Max[d] = math.Max(b.Max[d], o.Max[d])
	}
	return u
}

// UnionVolume is the volume of b.Union(o) without allocating the union.
func (b Box) UnionVolume(o Box) float64 {
	v := 1.0
	for d := range b.Min {
		v *= math.Max(b.Max[d], o.Max[d]) - math.Min(b.Min[d], o.Min[d])
	}
	return v
}

// Enlargement is the volume growth needed for b to include o.
func (b Box) Enlargement(o Box) float64 {
	return b.UnionVolume(o) - b.Volume()
}

// Intersects reports whether the closed boxes share at least one point.
func (b Box) Intersects(o Box) bool {
	for d := range b.Min {
		if b.Max[d] < o.Min[d] || o.Max[d] < b.Min[d] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely within b.
func (b Box) Contains(o Box) bool {
	for d := range b.Min {
		if o.Min[d] < b.Min[d] || o.Max[d] > b.Max[d] {
			return false
		}
	}
	return true
}

func (b Box) ContainsPoint(p []float64) bool {
	for d := range b.Min {
		if p[d] < b.Min[d] || p[d] > b.Max[d] {
			return false
		}
	}
	return true
}

// Overlap is the volume of the intersection of b and o, 0 when disjoint.
func (b Box) Overlap(o Box) float64 {
	v := 1.0
	for d := range b.Min {
		lo := math.Max(b.Min[d], o.Min[d])
		hi := math.Min(b.Max[d], o.Max[d])
		if hi <= lo {
			return 0
		}
		v *= hi - lo
	}
	return v
}

// RelativeOverlap is the intersection volume divided by the summed volumes of
// both boxes. Boxes that only touch, or are degenerate in a shared
// dimension, have no overlap.
func RelativeOverlap(a, b Box) float64 {
	overlap, va, vb := 1.0, 1.0, 1.0
	for d := range a.Min {
		lo := math.Max(a.Min[d], b.Min[d])
		hi := math.Min(a.Max[d], b.Max[d])
		if hi <= lo {
			return 0
		}
		overlap *= hi - lo
		va *= a.Max[d] - a.Min[d]
		vb *= b.Max[d] - b.Min[d]
	}
	return overlap / (va + vb)
}

func (b Box) Equal(o Box) bool {
	if len(b.Min) != len(o.Min) {
		return false
	}
	for d := range b.Min {
		if b.Min[d] != o.Min[d] || b.Max[d] != o.Max[d] {
			return false
		}
	}
	return true
}

func (b Box) String() string {
	return fmt.Sprintf("Box{%v..%v}", b.Min, b.Max)
}

// UnionAll returns the union of all boxes, or an empty box for no input.
func UnionAll(boxes []Box) Box {
	if len(boxes) == 0 {
		return Box{}
	}
	u := boxes[0].Clone()
	for _, b := range boxes[1:] {
		for d := range u.Min {
			if b.Min[d] < u.Min[d] {
				u.Min[d] = b.Min[d]
			}
			if b.Max[d] > u.Max[d] {
				u.Max[d] = b.Max[d]
			}
		}
	}
	return u
}

// PrefixUnions returns p where p[i] is the union of boxes[order[0..i]].
func PrefixUnions(boxes []Box, order []int) []Box {
	out := make([]Box, len(order))
	var acc Box
	for i, idx := range order {
		acc = acc.Union(boxes[idx])
		out[i] = acc
	}
	return out
}

// SuffixUnions returns s where s[i] is the union of boxes[order[i..]].
func SuffixUnions(boxes []Box, order []int) []Box {
	out := make([]Box, len(order))
	var acc Box
	for i := len(order) - 1; i >= 0; i-- {
		acc = acc.Union(boxes[order[i]])
		out[i] = acc
	}
	return out
}
