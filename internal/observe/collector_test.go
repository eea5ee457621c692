package observe

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorEmptySnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	if len(snap.Series) != 0 {
		t.Errorf("expected no series, got %v", snap.Series)
	}
	if snap.CacheHitRate != 0 {
		t.Errorf("hit rate without lookups = %v, want 0", snap.CacheHitRate)
	}
}

func TestCollectorSeriesStats(t *testing.T) {
	c := NewCollector()
	for _, v := range []float64{10, 20, 30} {
		c.Observe(SeriesFast, v)
	}

	s := c.Snapshot().Series[SeriesFast]
	if s.Count != 3 {
		t.Fatalf("count = %d, want 3", s.Count)
	}
	if s.Min != 10 || s.Max != 30 {
		t.Errorf("min/max = %v/%v, want 10/30", s.Min, s.Max)
	}
	if s.Avg != 20 {
		t.Errorf("avg = %v, want 20", s.Avg)
	}
}

func TestCollectorWindowOverwrites(t *testing.T) {
	c := NewCollector()
	// Fill the window, then push it out entirely with a higher value.
	for i := 0; i < windowSize; i++ {
		c.Observe(SeriesSearch, 1)
	}
	for i := 0; i < windowSize; i++ {
		c.Observe(SeriesSearch, 5)
	}

	s := c.Snapshot().Series[SeriesSearch]
	if s.Count != windowSize {
		t.Fatalf("count = %d, want %d", s.Count, windowSize)
	}
	if s.Min != 5 || s.Max != 5 || s.Avg != 5 {
		t.Errorf("old samples leaked into the window: %+v", s)
	}
}

func TestCollectorObserveDuration(t *testing.T) {
	c := NewCollector()
	c.ObserveDuration(SeriesPipeline, 1500*time.Millisecond)

	s := c.Snapshot().Series[SeriesPipeline]
	if s.Count != 1 || s.Avg != 1500 {
		t.Fatalf("expected one 1500ms sample, got %+v", s)
	}
}

func TestCollectorCacheHitRate(t *testing.T) {
	c := NewCollector()
	c.CacheHit()
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()

	snap := c.Snapshot()
	if snap.CacheHits != 3 || snap.CacheMisses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 3/1", snap.CacheHits, snap.CacheMisses)
	}
	if snap.CacheHitRate != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", snap.CacheHitRate)
	}
}

func TestCollectorQueryCounts(t *testing.T) {
	c := NewCollector()
	c.Query(false)
	c.Query(false)
	c.Query(true)

	snap := c.Snapshot()
	if snap.QueriesTotal != 3 || snap.ErrorsTotal != 1 {
		t.Fatalf("queries/errors = %d/%d, want 3/1", snap.QueriesTotal, snap.ErrorsTotal)
	}
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.Observe(SeriesEmbedding, float64(j))
				c.CacheHit()
				c.Query(false)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.QueriesTotal != 4000 || snap.CacheHits != 4000 {
		t.Fatalf("lost updates: %+v", snap)
	}
	if snap.Series[SeriesEmbedding].Count != windowSize {
		t.Fatalf("window count = %d, want %d", snap.Series[SeriesEmbedding].Count, windowSize)
	}
}
