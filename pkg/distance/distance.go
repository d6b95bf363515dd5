// Package distance defines the distance-function collaborator used by the
// index and the usual Minkowski-family metrics.
//
// Every metric computes MinDist between two boxes as the exact distance
// between their closest pair of points, so MinDist(box1, box2) never exceeds
// Distance(p, q) for any p in box1 and q in box2, and equals it for
// degenerate boxes.
package distance

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"rstardb/pkg/geom"

	"gonum.org/v1/gonum/floats"
)

// Function computes exact point distances and lower bounds between boxes.
// Both must be non-negative.
type Function interface {
	Distance(a, b []float64) float64
	MinDist(a, b geom.Box) float64
}

// ClosestPoints returns, for each dimension, the coordinates of the pair of
// points of a and b that are closest to each other.
func ClosestPoints(a, b geom.Box) (pa, pb []float64) {
	pa = make([]float64, len(a.Min))
	pb = make([]float64, len(a.Min))
	for d := range a.Min {
		switch {
		case a.Max[d] < b.Min[d]:
			pa[d], pb[d] = a.Max[d], b.Min[d]
		case b.Max[d] < a.Min[d]:
			pa[d], pb[d] = a.Min[d], b.Max[d]
		default:
			v := math.Max(a.Min[d], b.Min[d])
			pa[d], pb[d] = v, v
		}
	}
	return pa, pb
}

// Euclidean is the L2 distance. The sum of squares is accumulated directly
// so the result is monotone in every coordinate difference.
type Euclidean struct{}

func (Euclidean) Distance(a, b []float64) float64 {
	return math.Sqrt(sumOfSquares(a, b))
}

func (e Euclidean) MinDist(a, b geom.Box) float64 {
	pa, pb := ClosestPoints(a, b)
	return e.Distance(pa, pb)
}

func (Euclidean) String() string { return "euclidean" }

// SquaredEuclidean skips the square root. Radii passed to range queries are
// interpreted in squared units.
type SquaredEuclidean struct{}

func (SquaredEuclidean) Distance(a, b []float64) float64 {
	return sumOfSquares(a, b)
}

func (s SquaredEuclidean) MinDist(a, b geom.Box) float64 {
	pa, pb := ClosestPoints(a, b)
	return s.Distance(pa, pb)
}

func (SquaredEuclidean) String() string { return "squared-euclidean" }

func sumOfSquares(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Manhattan is the L1 (city-block) distance.
type Manhattan struct{}

func (Manhattan) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 1)
}

func (m Manhattan) MinDist(a, b geom.Box) float64 {
	pa, pb := ClosestPoints(a, b)
	return m.Distance(pa, pb)
}

func (Manhattan) String() string { return "manhattan" }

// Chebyshev is the L-infinity (maximum) distance.
type Chebyshev struct{}

func (Chebyshev) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, math.Inf(1))
}

func (c Chebyshev) MinDist(a, b geom.Box) float64 {
	pa, pb := ClosestPoints(a, b)
	return c.Distance(pa, pb)
}

func (Chebyshev) String() string { return "chebyshev" }

// Minkowski is the Lp distance for P >= 1. Use Euclidean for P == 2.
type Minkowski struct {
	P float64
}

func (m Minkowski) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, m.P)
}

func (m Minkowski) MinDist(a, b geom.Box) float64 {
	pa, pb := ClosestPoints(a, b)
	return m.Distance(pa, pb)
}

func (m Minkowski) String() string {
	return "minkowski-" + strconv.FormatFloat(m.P, 'g', -1, 64)
}

// ByName resolves a configured metric name: euclidean, squared-euclidean,
// manhattan, chebyshev or minkowski-<p>.
func ByName(name string) (Function, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "euclidean", "l2":
		return Euclidean{}, nil
	case "squared-euclidean", "sqeuclidean":
		return SquaredEuclidean{}, nil
	case "manhattan", "l1", "cityblock":
		return Manhattan{}, nil
	case "chebyshev", "maximum", "linf":
		return Chebyshev{}, nil
	default:
		if rest, ok := strings.CutPrefix(n, "minkowski-"); ok {
			p, err := strconv.ParseFloat(rest, 64)
			if err != nil || p < 1 || math.IsInf(p, 0) {
				return nil, fmt.Errorf("distance: invalid minkowski exponent %q", rest)
			}
			if p == 2 {
				return Euclidean{}, nil
			}
			return Minkowski{P: p}, nil
		}
		return nil, fmt.Errorf("distance: unknown metric %q", name)
	}
}
