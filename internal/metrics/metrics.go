package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds the pipeline's process-wide counters. All fields are
// monotonically increasing and updated with atomics, so a snapshot never
// blocks in-flight work. An explicit instance is passed to the orchestrator
// instead of package-level state so tests can run independent pipelines.
type Metrics struct {
	totalProcessed  atomic.Int64 // derivatives encoded and persisted
	totalOptimized  atomic.Int64 // source images fully processed
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	bytesSaved      atomic.Int64
	processingNanos atomic.Int64
}

// Snapshot is a consistent-enough point-in-time copy of the counters.
type Snapshot struct {
	TotalProcessed int64         `json:"total_processed"`
	TotalOptimized int64         `json:"total_optimized"`
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	BytesSaved     int64         `json:"bytes_saved"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// AddProcessed records n persisted derivatives.
func (m *Metrics) AddProcessed(n int64) { m.totalProcessed.Add(n) }

// AddOptimized records one fully processed source image.
func (m *Metrics) AddOptimized() { m.totalOptimized.Add(1) }

// AddCacheHit records one derivative served from the result cache.
func (m *Metrics) AddCacheHit() { m.cacheHits.Add(1) }

// AddCacheMiss records one derivative that had to be produced.
func (m *Metrics) AddCacheMiss() { m.cacheMisses.Add(1) }

// AddBytesSaved records the size difference between a source and one of its
// derivatives. Negative savings (a derivative larger than its source) are
// not recorded.
func (m *Metrics) AddBytesSaved(n int64) {
	if n > 0 {
		m.bytesSaved.Add(n)
	}
}

// AddProcessingTime accumulates wall time spent inside ProcessImage.
func (m *Metrics) AddProcessingTime(d time.Duration) {
	m.processingNanos.Add(int64(d))
}

// Snapshot returns the current counter values without blocking writers.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalProcessed: m.totalProcessed.Load(),
		TotalOptimized: m.totalOptimized.Load(),
		CacheHits:      m.cacheHits.Load(),
		CacheMisses:    m.cacheMisses.Load(),
		BytesSaved:     m.bytesSaved.Load(),
		ProcessingTime: time.Duration(m.processingNanos.Load()),
	}
}
