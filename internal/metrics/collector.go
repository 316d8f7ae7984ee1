package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelforge/image-optimizer/internal/cache"
)

// CacheStatsFunc supplies the result cache counters to the collector.
type CacheStatsFunc func() cache.Stats

// Collector exports the pipeline counters and cache stats to Prometheus.
// It reads snapshots on every scrape, so it never holds the hot-path locks.
type Collector struct {
	metrics    *Metrics
	cacheStats CacheStatsFunc

	processedDesc  *prometheus.Desc
	optimizedDesc  *prometheus.Desc
	cacheHitsDesc  *prometheus.Desc
	cacheMissDesc  *prometheus.Desc
	bytesSavedDesc *prometheus.Desc
	procTimeDesc   *prometheus.Desc
	cacheBytesDesc *prometheus.Desc
	cacheSlotsDesc *prometheus.Desc
	evictionsDesc  *prometheus.Desc
}

// NewCollector creates a Collector over the given counters. cacheStats may
// be nil if no cache is attached.
func NewCollector(m *Metrics, cacheStats CacheStatsFunc) *Collector {
	return &Collector{
		metrics:    m,
		cacheStats: cacheStats,
		processedDesc: prometheus.NewDesc(
			"image_optimizer_derivatives_processed_total",
			"Total number of derivatives encoded and persisted", nil, nil),
		optimizedDesc: prometheus.NewDesc(
			"image_optimizer_images_optimized_total",
			"Total number of source images fully processed", nil, nil),
		cacheHitsDesc: prometheus.NewDesc(
			"image_optimizer_cache_hits_total",
			"Total number of result cache hits", nil, nil),
		cacheMissDesc: prometheus.NewDesc(
			"image_optimizer_cache_misses_total",
			"Total number of result cache misses", nil, nil),
		bytesSavedDesc: prometheus.NewDesc(
			"image_optimizer_bytes_saved_total",
			"Total bytes saved by re-encoding derivatives", nil, nil),
		procTimeDesc: prometheus.NewDesc(
			"image_optimizer_processing_seconds_total",
			"Cumulative wall time spent processing images", nil, nil),
		cacheBytesDesc: prometheus.NewDesc(
			"image_optimizer_cache_size_bytes",
			"Current total size of cached derivatives", nil, nil),
		cacheSlotsDesc: prometheus.NewDesc(
			"image_optimizer_cache_entries",
			"Current number of cached derivatives", nil, nil),
		evictionsDesc: prometheus.NewDesc(
			"image_optimizer_cache_evictions_total",
			"Total number of cache entries evicted", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processedDesc
	ch <- c.optimizedDesc
	ch <- c.cacheHitsDesc
	ch <- c.cacheMissDesc
	ch <- c.bytesSavedDesc
	ch <- c.procTimeDesc
	ch <- c.cacheBytesDesc
	ch <- c.cacheSlotsDesc
	ch <- c.evictionsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.processedDesc, prometheus.CounterValue, float64(s.TotalProcessed))
	ch <- prometheus.MustNewConstMetric(c.optimizedDesc, prometheus.CounterValue, float64(s.TotalOptimized))
	ch <- prometheus.MustNewConstMetric(c.cacheHitsDesc, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMissDesc, prometheus.CounterValue, float64(s.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.bytesSavedDesc, prometheus.CounterValue, float64(s.BytesSaved))
	ch <- prometheus.MustNewConstMetric(c.procTimeDesc, prometheus.CounterValue, s.ProcessingTime.Seconds())

	if c.cacheStats != nil {
		cs := c.cacheStats()
		ch <- prometheus.MustNewConstMetric(c.cacheBytesDesc, prometheus.GaugeValue, float64(cs.CurrentBytes))
		ch <- prometheus.MustNewConstMetric(c.cacheSlotsDesc, prometheus.GaugeValue, float64(cs.Entries))
		ch <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(cs.Evictions))
	}
}
