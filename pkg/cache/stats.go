package cache

import (
	"sync/atomic"
)

// Statistics tracks cache activity.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) Hit()                  { s.hits.Add(1) }
func (s *Statistics) Miss()                 { s.misses.Add(1) }
func (s *Statistics) Set()                  { s.sets.Add(1) }
func (s *Statistics) Delete()               { s.deletes.Add(1) }
func (s *Statistics) Eviction()             { s.evictions.Add(1) }
func (s *Statistics) UpdateSize(size int64) { s.size.Store(size) }

func (s *Statistics) Hits() int64      { return s.hits.Load() }
func (s *Statistics) Misses() int64    { return s.misses.Load() }
func (s *Statistics) Sets() int64      { return s.sets.Load() }
func (s *Statistics) Deletes() int64   { return s.deletes.Load() }
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }
func (s *Statistics) Size() int64      { return s.size.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
