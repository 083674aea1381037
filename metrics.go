package mapio

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
//	    mapCounter     prometheus.Counter
//	    barrierLatency prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordMap(bytes int, duration time.Duration, err error) {
//	    p.mapCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordMap is called after each map creation.
	// bytes is the requested size, duration is the time taken,
	// err is nil if successful.
	RecordMap(bytes int, duration time.Duration, err error)

	// RecordTruncate is called after each reservation change.
	RecordTruncate(relocated bool, duration time.Duration, err error)

	// RecordCacheLookup is called for every recycling cache lookup.
	RecordCacheLookup(hit bool)

	// RecordBarrier is called after each barrier.
	RecordBarrier(kind BarrierKind, bytes int, duration time.Duration, err error)

	// RecordFault is called when a hardware fault is translated into an error.
	RecordFault()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMap(int, time.Duration, error)                  {}
func (NoopMetricsCollector) RecordTruncate(bool, time.Duration, error)            {}
func (NoopMetricsCollector) RecordCacheLookup(bool)                               {}
func (NoopMetricsCollector) RecordBarrier(BarrierKind, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFault()                                         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MapCount          atomic.Int64
	MapErrors         atomic.Int64
	MapBytes          atomic.Int64
	MapTotalNanos     atomic.Int64
	TruncateCount     atomic.Int64
	TruncateErrors    atomic.Int64
	Relocations       atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	BarrierCount      atomic.Int64
	BarrierErrors     atomic.Int64
	BarrierBytes      atomic.Int64
	BarrierTotalNanos atomic.Int64
	FaultCount        atomic.Int64
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(bytes int, duration time.Duration, err error) {
	b.MapCount.Add(1)
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
		return
	}
	b.MapBytes.Add(int64(bytes))
}

// RecordTruncate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTruncate(relocated bool, duration time.Duration, err error) {
	b.TruncateCount.Add(1)
	if err != nil {
		b.TruncateErrors.Add(1)
	}
	if relocated {
		b.Relocations.Add(1)
	}
}

// RecordCacheLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLookup(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// RecordBarrier implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBarrier(kind BarrierKind, bytes int, duration time.Duration, err error) {
	b.BarrierCount.Add(1)
	b.BarrierTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BarrierErrors.Add(1)
		return
	}
	b.BarrierBytes.Add(int64(bytes))
}

// RecordFault implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFault() {
	b.FaultCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MapCount:        b.MapCount.Load(),
		MapErrors:       b.MapErrors.Load(),
		MapBytes:        b.MapBytes.Load(),
		MapAvgNanos:     avg(b.MapTotalNanos.Load(), b.MapCount.Load()),
		TruncateCount:   b.TruncateCount.Load(),
		TruncateErrors:  b.TruncateErrors.Load(),
		Relocations:     b.Relocations.Load(),
		CacheHits:       b.CacheHits.Load(),
		CacheMisses:     b.CacheMisses.Load(),
		BarrierCount:    b.BarrierCount.Load(),
		BarrierErrors:   b.BarrierErrors.Load(),
		BarrierBytes:    b.BarrierBytes.Load(),
		BarrierAvgNanos: avg(b.BarrierTotalNanos.Load(), b.BarrierCount.Load()),
		FaultCount:      b.FaultCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MapCount        int64
	MapErrors       int64
	MapBytes        int64
	MapAvgNanos     int64
	TruncateCount   int64
	TruncateErrors  int64
	Relocations     int64
	CacheHits       int64
	CacheMisses     int64
	BarrierCount    int64
	BarrierErrors   int64
	BarrierBytes    int64
	BarrierAvgNanos int64
	FaultCount      int64
}
