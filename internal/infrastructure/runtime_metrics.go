package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const defaultRuntimeSampleInterval = 30 * time.Second

// RuntimeMetrics holds the Go runtime instrument set exported next to the
// license counters, so /metrics shows process pressure alongside traffic.
type RuntimeMetrics struct {
	goroutines metric.Int64Gauge
	heapAlloc  metric.Int64Gauge
	heapSys    metric.Int64Gauge
	gcCycles   metric.Int64Counter
	gcPause    metric.Float64Histogram
	uptime     metric.Float64Gauge
}

// NewRuntimeMetrics creates the runtime instruments on the given meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"runtime_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"runtime_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	heapSys, err := meter.Int64Gauge(
		"runtime_heap_sys_bytes",
		metric.WithDescription("Heap memory obtained from the OS"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCycles, err := meter.Int64Counter(
		"runtime_gc_cycles_total",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, err
	}

	gcPause, err := meter.Float64Histogram(
		"runtime_gc_pause_seconds",
		metric.WithDescription("Most recent garbage collection pause"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Float64Gauge(
		"runtime_uptime_seconds",
		metric.WithDescription("Process uptime"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		goroutines: goroutines,
		heapAlloc:  heapAlloc,
		heapSys:    heapSys,
		gcCycles:   gcCycles,
		gcPause:    gcPause,
		uptime:     uptime,
	}, nil
}

// RuntimeSnapshot is one observation of the runtime counters.
type RuntimeSnapshot struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapSys     uint64
	GCCycles    uint32
	LastGCPause time.Duration
	Uptime      time.Duration
}

// RuntimeCollector samples the Go runtime on a fixed interval and records
// the results. Start blocks until Stop is called or the context ends, so
// the owner runs it on its own goroutine.
type RuntimeCollector struct {
	metrics   *RuntimeMetrics
	startTime time.Time
	interval  time.Duration
	lastGC    uint32
	stopCh    chan struct{}
}

// NewRuntimeCollector creates a collector recording on the given meter.
// A non-positive interval selects the default sampling period.
func NewRuntimeCollector(meter metric.Meter, interval time.Duration) (*RuntimeCollector, error) {
	metrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime metrics: %w", err)
	}
	if interval <= 0 {
		interval = defaultRuntimeSampleInterval
	}
	return &RuntimeCollector{
		metrics:   metrics,
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start samples immediately and then on every tick.
func (rc *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			rc.Collect(ctx)
		case <-rc.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the sampling loop.
func (rc *RuntimeCollector) Stop() {
	close(rc.stopCh)
}

// Collect takes one sample, records it and returns the snapshot. It is
// driven by the Start loop and is not safe for concurrent callers.
func (rc *RuntimeCollector) Collect(ctx context.Context) RuntimeSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := RuntimeSnapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   memStats.HeapAlloc,
		HeapSys:     memStats.HeapSys,
		GCCycles:    memStats.NumGC,
		LastGCPause: time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		Uptime:      time.Since(rc.startTime),
	}

	rc.metrics.goroutines.Record(ctx, int64(snap.Goroutines))
	rc.metrics.heapAlloc.Record(ctx, int64(snap.HeapAlloc))
	rc.metrics.heapSys.Record(ctx, int64(snap.HeapSys))
	rc.metrics.uptime.Record(ctx, snap.Uptime.Seconds())

	if delta := snap.GCCycles - rc.lastGC; delta > 0 {
		rc.metrics.gcCycles.Add(ctx, int64(delta))
		if snap.LastGCPause > 0 {
			rc.metrics.gcPause.Record(ctx, snap.LastGCPause.Seconds())
		}
	}
	rc.lastGC = snap.GCCycles

	return snap
}
