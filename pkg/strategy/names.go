package strategy

import (
	"fmt"
	"strings"
)

// ParseInsertion resolves a configured choose-subtree policy.
func ParseInsertion(name string) (InsertionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "combined", "rstar":
		return DefaultInsertion(), nil
	case "least-enlargement", "enlargement":
		return LeastEnlargementWithArea{}, nil
	case "least-overlap", "overlap":
		return LeastOverlap{}, nil
	}
	return nil, fmt.Errorf("strategy: unknown insertion strategy %q", name)
}

// ParseSplit resolves a configured split policy.
func ParseSplit(name string) (SplitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "topological", "rstar":
		return TopologicalSplit{}, nil
	}
	return nil, fmt.Errorf("strategy: unknown split strategy %q", name)
}

// ParseOverflow resolves an overflow treatment and, for forced reinsertion,
// its reinsert strategy ("far" or "close") and fraction in (0, 1).
func ParseOverflow(name, reinsert string, fraction float64) (OverflowTreatment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "split", "split-only":
		return SplitOnly{}, nil
	case "", "limited-reinsert", "reinsert":
	default:
		return nil, fmt.Errorf("strategy: unknown overflow treatment %q", name)
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("strategy: reinsert fraction %g outside (0, 1)", fraction)
	}
	switch strings.ToLower(strings.TrimSpace(reinsert)) {
	case "", "far":
		return LimitedReinsert{Reinsert: FarReinsert{Fraction: fraction}}, nil
	case "close":
		return LimitedReinsert{Reinsert: CloseReinsert{Fraction: fraction}}, nil
	}
	return nil, fmt.Errorf("strategy: unknown reinsert strategy %q", reinsert)
}

// ParseBulkSplit resolves a bulk partitioning policy. "" and "none" disable
// bulk loading and yield nil.
func ParseBulkSplit(name string) (BulkSplit, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "one-dim-sort", "onedim":
		return OneDimSort{}, nil
	case "zcurve", "spatial-sort", "morton":
		return ZCurveSort{}, nil
	case "str", "sort-tile-recursive":
		return SortTileRecursive{}, nil
	}
	return nil, fmt.Errorf("strategy: unknown bulk split %q", name)
}
