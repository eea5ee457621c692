package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// windowSize is how many samples each rolling series keeps.
const windowSize = 1000

// Series names tracked by the Collector.
const (
	SeriesEmbedding = "embedding_ms"
	SeriesSearch    = "search_ms"
	SeriesFast      = "fast_generation_ms"
	SeriesAccurate  = "accurate_generation_ms"
	SeriesPipeline  = "pipeline_ms"
	SeriesMemory    = "memory_percent"
)

// SeriesStats summarises one rolling series.
type SeriesStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time view of the collector. Values reflect only the
// last windowSize samples per series; counters cover the process lifetime.
type Snapshot struct {
	Series map[string]SeriesStats `json:"series"`

	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	QueriesTotal int64 `json:"queries_total"`
	ErrorsTotal  int64 `json:"errors_total"`

	// CacheHitRate is hits / (hits + misses), 0 with no lookups yet.
	CacheHitRate float64 `json:"cache_hit_rate"`

	TakenAt time.Time `json:"taken_at"`
}

// ring is a fixed-size overwrite buffer of float64 samples.
type ring struct {
	values []float64
	next   int
	filled bool
}

func (r *ring) add(v float64) {
	if r.values == nil {
		r.values = make([]float64, windowSize)
	}
	r.values[r.next] = v
	r.next++
	if r.next == windowSize {
		r.next = 0
		r.filled = true
	}
}

func (r *ring) stats() SeriesStats {
	n := r.next
	if r.filled {
		n = windowSize
	}
	if n == 0 {
		return SeriesStats{}
	}
	s := SeriesStats{Count: n, Min: r.values[0], Max: r.values[0]}
	var sum float64
	for i := 0; i < n; i++ {
		v := r.values[i]
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Avg = sum / float64(n)
	return s
}

// Collector keeps rolling-window latency and memory statistics in process.
// It complements the OTel instruments: the instruments feed the external
// scrape endpoint while the collector answers the service's own /metrics-ish
// introspection and periodic log line without a scrape round-trip.
//
// The window is approximate by design: samples beyond windowSize are
// overwritten, and concurrent readers may see a snapshot mid-update of
// unrelated series. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	series map[string]*ring

	cacheHits   int64
	cacheMisses int64
	queries     int64
	errors      int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{series: make(map[string]*ring)}
}

// Observe adds one sample to the named series.
func (c *Collector) Observe(series string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.series[series]
	if !ok {
		r = &ring{}
		c.series[series] = r
	}
	r.add(value)
}

// ObserveDuration adds one duration sample, converted to milliseconds.
func (c *Collector) ObserveDuration(series string, d time.Duration) {
	c.Observe(series, float64(d)/float64(time.Millisecond))
}

// CacheHit counts one context cache hit.
func (c *Collector) CacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// CacheMiss counts one context cache miss.
func (c *Collector) CacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// Query counts one processed query; failed marks it as errored.
func (c *Collector) Query(failed bool) {
	c.mu.Lock()
	c.queries++
	if failed {
		c.errors++
	}
	c.mu.Unlock()
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Series:       make(map[string]SeriesStats, len(c.series)),
		CacheHits:    c.cacheHits,
		CacheMisses:  c.cacheMisses,
		QueriesTotal: c.queries,
		ErrorsTotal:  c.errors,
		TakenAt:      time.Now().UTC(),
	}
	for name, r := range c.series {
		snap.Series[name] = r.stats()
	}
	if total := c.cacheHits + c.cacheMisses; total > 0 {
		snap.CacheHitRate = float64(c.cacheHits) / float64(total)
	}
	return snap
}

// LogPeriodically writes a snapshot summary to the default logger every
// interval until ctx is cancelled. Run it in its own goroutine.
func (c *Collector) LogPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			attrs := []any{
				slog.Int64("queries_total", snap.QueriesTotal),
				slog.Int64("errors_total", snap.ErrorsTotal),
				slog.Float64("cache_hit_rate", snap.CacheHitRate),
			}
			for name, s := range snap.Series {
				if s.Count == 0 {
					continue
				}
				attrs = append(attrs, slog.Group(name,
					slog.Int("count", s.Count),
					slog.Float64("avg", s.Avg),
					slog.Float64("max", s.Max),
				))
			}
			slog.Info("metrics snapshot", attrs...)
		}
	}
}
