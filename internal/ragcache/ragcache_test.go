package ragcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

func sampleBundle() Bundle {
	return Bundle{
		Results: []index.SearchResult{
			{ChunkID: "c1", ActID: "kc", ActTitle: "Kodeks cywilny", ActPublisher: "Dz.U.", ActStatus: index.StatusInForce, ChunkIndex: 0, Content: "Art. 1.", Similarity: 0.9},
		},
		RelatedActs: []index.RelatedAct{
			{ActID: "kpc", Title: "Kodeks postępowania cywilnego", Publisher: "Dz.U.", Status: index.StatusInForce, Kind: index.KindModifies, Depth: 1},
		},
		LegalContext: "=== Kodeks cywilny ===",
		CachedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryPutGet(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	if err := c.Put(ctx, "q1", sampleBundle()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit")
	}
	if got.LegalContext != "=== Kodeks cywilny ===" || len(got.Results) != 1 {
		t.Fatalf("unexpected bundle: %+v", got)
	}
}

func TestMemoryMissReturnsNilNil(t *testing.T) {
	c := NewMemory(time.Minute)
	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected a miss")
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Put(ctx, "q1", sampleBundle()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(59 * time.Second)
	if got, _ := c.Get(ctx, "q1"); got == nil {
		t.Fatal("entry must still be valid before the TTL")
	}

	now = now.Add(2 * time.Second)
	got, err := c.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("entry must expire after the TTL")
	}

	// The expired entry is gone, not just hidden.
	c.mu.Lock()
	_, still := c.entries["q1"]
	c.mu.Unlock()
	if still {
		t.Fatal("expired entry must be removed on read")
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	if err := c.Put(ctx, "q1", sampleBundle()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Delete(ctx, "q1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := c.Get(ctx, "q1"); got != nil {
		t.Fatal("expected deleted entry to miss")
	}
	// Deleting again is a no-op.
	if err := c.Delete(ctx, "q1"); err != nil {
		t.Fatalf("Delete of missing entry: %v", err)
	}
}

func TestBundleRoundTripsThroughJSON(t *testing.T) {
	b := sampleBundle()
	payload, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Bundle
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.LegalContext != b.LegalContext || len(got.Results) != 1 || got.Results[0].ActID != "kc" {
		t.Fatalf("bundle changed across the codec: %+v", got)
	}
	if got.Results[0].ActStatus != index.StatusInForce || got.Results[0].ActPublisher != "Dz.U." {
		t.Fatalf("act summary lost: %+v", got.Results[0])
	}
	if got.RelatedActs[0].Kind != index.KindModifies || got.RelatedActs[0].Status != index.StatusInForce {
		t.Fatalf("related act lost fields: %+v", got.RelatedActs[0])
	}
}
