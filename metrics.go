package chunkgraph

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    buildHistogram    prometheus.Histogram
//	    manifestHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordBuild(duration time.Duration, hits, misses uint64, err error) {
//	    p.buildHistogram.Observe(duration.Seconds())
//	    // ... record error state, etc.
//	}
type MetricsCollector interface {
	// RecordBuild is called after each graph build. duration is the
	// total time taken, hits/misses count chunk cache lookups, err is
	// nil if successful.
	RecordBuild(duration time.Duration, cacheHits, cacheMisses uint64, err error)

	// RecordManifest is called after each manifest request.
	// fragments is the number of locators returned.
	RecordManifest(fragments int, duration time.Duration, err error)

	// RecordRead is called after each hierarchy read
	// (parent/children/root/subgraph).
	RecordRead(duration time.Duration, err error)

	// RecordMerge is called after each merge edit.
	RecordMerge(duration time.Duration, err error)

	// RecordSplit is called after each split edit.
	RecordSplit(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(time.Duration, uint64, uint64, error) {}
func (NoopMetricsCollector) RecordManifest(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordRead(time.Duration, error)                  {}
func (NoopMetricsCollector) RecordMerge(time.Duration, error)                 {}
func (NoopMetricsCollector) RecordSplit(time.Duration, error)                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount         atomic.Int64
	BuildErrors        atomic.Int64
	BuildTotalNanos    atomic.Int64
	CacheHits          atomic.Int64
	CacheMisses        atomic.Int64
	ManifestCount      atomic.Int64
	ManifestErrors     atomic.Int64
	ManifestFragments  atomic.Int64
	ManifestTotalNanos atomic.Int64
	ReadCount          atomic.Int64
	ReadErrors         atomic.Int64
	MergeCount         atomic.Int64
	MergeErrors        atomic.Int64
	SplitCount         atomic.Int64
	SplitErrors        atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(duration time.Duration, cacheHits, cacheMisses uint64, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	b.CacheHits.Add(int64(cacheHits))
	b.CacheMisses.Add(int64(cacheMisses))
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordManifest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordManifest(fragments int, duration time.Duration, err error) {
	b.ManifestCount.Add(1)
	b.ManifestFragments.Add(int64(fragments))
	b.ManifestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ManifestErrors.Add(1)
	}
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(duration time.Duration, err error) {
	b.ReadCount.Add(1)
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(duration time.Duration, err error) {
	b.MergeCount.Add(1)
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// RecordSplit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSplit(duration time.Duration, err error) {
	b.SplitCount.Add(1)
	if err != nil {
		b.SplitErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	BuildCount        int64
	BuildErrors       int64
	BuildAvgNanos     int64
	CacheHits         int64
	CacheMisses       int64
	ManifestCount     int64
	ManifestErrors    int64
	ManifestFragments int64
	ManifestAvgNanos  int64
	ReadCount         int64
	ReadErrors        int64
	MergeCount        int64
	MergeErrors       int64
	SplitCount        int64
	SplitErrors       int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:        b.BuildCount.Load(),
		BuildErrors:       b.BuildErrors.Load(),
		BuildAvgNanos:     avgNanos(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		CacheHits:         b.CacheHits.Load(),
		CacheMisses:       b.CacheMisses.Load(),
		ManifestCount:     b.ManifestCount.Load(),
		ManifestErrors:    b.ManifestErrors.Load(),
		ManifestFragments: b.ManifestFragments.Load(),
		ManifestAvgNanos:  avgNanos(b.ManifestTotalNanos.Load(), b.ManifestCount.Load()),
		ReadCount:         b.ReadCount.Load(),
		ReadErrors:        b.ReadErrors.Load(),
		MergeCount:        b.MergeCount.Load(),
		MergeErrors:       b.MergeErrors.Load(),
		SplitCount:        b.SplitCount.Load(),
		SplitErrors:       b.SplitErrors.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}
