package monitor

import (
	"sync/atomic"
)

// IndexStats counts page traffic and query work. All methods accept a nil
// receiver so instrumentation stays optional.
type IndexStats struct {
	PageReads     uint64
	PageWrites    uint64
	CacheHits     uint64
	DistanceCalcs uint64
	KNNQueries    uint64
	RangeQueries  uint64
	Inserts       uint64
	Deletes       uint64
}

func NewIndexStats() *IndexStats {
	return &IndexStats{}
}

func (s *IndexStats) RecordPageRead() {
	if s != nil {
		atomic.AddUint64(&s.PageReads, 1)
	}
}

func (s *IndexStats) RecordPageWrite() {
	if s != nil {
		atomic.AddUint64(&s.PageWrites, 1)
	}
}

func (s *IndexStats) RecordCacheHit() {
	if s != nil {
		atomic.AddUint64(&s.CacheHits, 1)
	}
}

func (s *IndexStats) RecordDistances(n int) {
	if s != nil && n > 0 {
		atomic.AddUint64(&s.DistanceCalcs, uint64(n))
	}
}

func (s *IndexStats) RecordKNN() {
	if s != nil {
		atomic.AddUint64(&s.KNNQueries, 1)
	}
}

func (s *IndexStats) RecordRange() {
	if s != nil {
		atomic.AddUint64(&s.RangeQueries, 1)
	}
}

func (s *IndexStats) RecordInsert() {
	if s != nil {
		atomic.AddUint64(&s.Inserts, 1)
	}
}

func (s *IndexStats) RecordDelete() {
	if s != nil {
		atomic.AddUint64(&s.Deletes, 1)
	}
}

// CacheHitRatio is hits / (hits + backend reads).
func (s *IndexStats) CacheHitRatio() float64 {
	if s == nil {
		return 0.0
	}
	hits := atomic.LoadUint64(&s.CacheHits)
	reads := atomic.LoadUint64(&s.PageReads)
	if hits+reads == 0 {
		return 0.0
	}
	return float64(hits) / float64(hits+reads)
}

func (s *IndexStats) Reset() {
	if s == nil {
		return
	}
	atomic.StoreUint64(&s.PageReads, 0)
	atomic.StoreUint64(&s.PageWrites, 0)
	atomic.StoreUint64(&s.CacheHits, 0)
	atomic.StoreUint64(&s.DistanceCalcs, 0)
	atomic.StoreUint64(&s.KNNQueries, 0)
	atomic.StoreUint64(&s.RangeQueries, 0)
	atomic.StoreUint64(&s.Inserts, 0)
	atomic.StoreUint64(&s.Deletes, 0)
}

func (s *IndexStats) Snapshot() map[string]interface{} {
	if s == nil {
		s = &IndexStats{}
	}
	return map[string]interface{}{
		"page_reads":      atomic.LoadUint64(&s.PageReads),
		"page_writes":     atomic.LoadUint64(&s.PageWrites),
		"cache_hits":      atomic.LoadUint64(&s.CacheHits),
		"cache_hit_ratio": s.CacheHitRatio(),
		"distance_calcs":  atomic.LoadUint64(&s.DistanceCalcs),
		"knn_queries":     atomic.LoadUint64(&s.KNNQueries),
		"range_queries":   atomic.LoadUint64(&s.RangeQueries),
		"inserts":         atomic.LoadUint64(&s.Inserts),
		"deletes":         atomic.LoadUint64(&s.Deletes),
	}
}
