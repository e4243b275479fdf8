// Package metrics collects latency and outcome statistics for the volley
// client engine.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/abdul-hamid-achik/volley/packages/httperr"
)

// Collector aggregates per-request results. Safe for concurrent use.
type Collector struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	byKind    map[httperr.Kind]int64
}

// Summary is a point-in-time snapshot of collected statistics.
type Summary struct {
	Total     int64
	Succeeded int64
	Failed    int64
	ByKind    map[string]int64
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Max       time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		// 1us to 60s range, 3 significant digits
		histogram: hdrhistogram.New(1, 60_000_000, 3),
		byKind:    make(map[httperr.Kind]int64),
	}
}

// Record adds one terminal result.
func (c *Collector) Record(duration time.Duration, err error) {
	c.total.Add(1)

	latencyUs := duration.Microseconds()
	if latencyUs < 1 {
		latencyUs = 1
	}
	if latencyUs > 60_000_000 {
		latencyUs = 60_000_000
	}

	c.mu.Lock()
	_ = c.histogram.RecordValue(latencyUs)
	if err != nil {
		c.byKind[httperr.KindOf(err)]++
	}
	c.mu.Unlock()

	if err != nil {
		c.failed.Add(1)
	} else {
		c.succeeded.Add(1)
	}
}

// Snapshot returns current aggregate statistics.
func (c *Collector) Snapshot() Summary {
	s := Summary{
		Total:     c.total.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		ByKind:    make(map[string]int64),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, n := range c.byKind {
		s.ByKind[k.String()] = n
	}
	s.P50 = time.Duration(c.histogram.ValueAtQuantile(50)) * time.Microsecond
	s.P95 = time.Duration(c.histogram.ValueAtQuantile(95)) * time.Microsecond
	s.P99 = time.Duration(c.histogram.ValueAtQuantile(99)) * time.Microsecond
	s.Max = time.Duration(c.histogram.Max()) * time.Microsecond
	return s
}
