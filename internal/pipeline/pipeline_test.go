package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/prawnikgpt/prawnikgpt/internal/assembler"
	"github.com/prawnikgpt/prawnikgpt/internal/observe"
	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
	qsmock "github.com/prawnikgpt/prawnikgpt/internal/querystore/mock"
	"github.com/prawnikgpt/prawnikgpt/internal/ragcache"
	"github.com/prawnikgpt/prawnikgpt/pkg/index"
	idxmock "github.com/prawnikgpt/prawnikgpt/pkg/index/mock"
	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
	llmmock "github.com/prawnikgpt/prawnikgpt/pkg/llm/mock"
)

const testQuestion = "Jakie są terminy przedawnienia roszczeń majątkowych?"

var testResults = []index.SearchResult{
	{
		ChunkID: "chunk-1", ActID: "act-kc", ActTitle: "Kodeks cywilny",
		ActYear: 1964, ActPosition: 93, ChunkIndex: 0,
		Content: "Art. 118. Termin przedawnienia wynosi sześć lat.", Similarity: 0.91,
	},
	{
		ChunkID: "chunk-2", ActID: "act-kc", ActTitle: "Kodeks cywilny",
		ActYear: 1964, ActPosition: 93, ChunkIndex: 3,
		Content: "Art. 120. Bieg przedawnienia rozpoczyna się od dnia wymagalności.", Similarity: 0.84,
	},
	{
		ChunkID: "chunk-3", ActID: "act-kpc", ActTitle: "Kodeks postępowania cywilnego",
		ActYear: 1964, ActPosition: 296, ChunkIndex: 1,
		Content: "Art. 777. Tytułami egzekucyjnymi są orzeczenia sądu.", Similarity: 0.72,
	},
}

var testRelated = []index.RelatedAct{
	{ActID: "act-kro", Title: "Kodeks rodzinny i opiekuńczy", Year: 1964, Position: 59, Kind: index.KindModifies, Depth: 1},
}

type fixture struct {
	orc     *Orchestrator
	gateway *llmmock.Gateway
	idx     *idxmock.Index
	store   *qsmock.Store
	cache   *ragcache.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		gateway: &llmmock.Gateway{
			EmbeddingResult: make([]float32, index.Dim),
			TextResult:      "Zgodnie z art. 118 KC termin przedawnienia wynosi sześć lat.",
		},
		idx: &idxmock.Index{
			SearchResult:  testResults,
			RelatedResult: testRelated,
		},
		store: qsmock.NewStore(),
		cache: ragcache.NewMemory(0),
	}
	f.orc = New(
		Config{FastModel: "mistral:7b", AccurateModel: "gpt-oss:120b"},
		f.gateway, f.idx, f.store, f.cache,
		WithMetrics(metrics),
		WithCollector(observe.NewCollector()),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	return f
}

func TestProcessFast_HappyPath(t *testing.T) {
	f := newFixture(t)

	rec, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion)
	if err != nil {
		t.Fatalf("ProcessFast: %v", err)
	}
	if rec.Fast == nil {
		t.Fatal("fast response not set on returned record")
	}
	if rec.Fast.ModelName != "mistral:7b" {
		t.Errorf("model = %q, want mistral:7b", rec.Fast.ModelName)
	}
	if rec.Fast.Content == "" {
		t.Error("empty fast content")
	}
	if len(rec.Fast.Sources) != 2 {
		t.Errorf("sources = %d, want 2 (one per act)", len(rec.Fast.Sources))
	}

	stored, err := f.store.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Fast == nil {
		t.Error("fast response not persisted")
	}

	bundle, err := f.cache.Get(context.Background(), rec.ID)
	if err != nil || bundle == nil {
		t.Fatalf("retrieval context not cached: bundle=%v err=%v", bundle, err)
	}
	if len(bundle.Results) != 3 {
		t.Errorf("cached fragments = %d, want 3", len(bundle.Results))
	}
	if !strings.Contains(bundle.LegalContext, "Kodeks cywilny") {
		t.Error("cached context missing act title")
	}

	snap := f.orc.Collector().Snapshot()
	if snap.QueriesTotal != 1 || snap.ErrorsTotal != 0 {
		t.Errorf("collector queries/errors = %d/%d, want 1/0", snap.QueriesTotal, snap.ErrorsTotal)
	}
}

func TestProcessFast_UsesSystemPromptAndContext(t *testing.T) {
	f := newFixture(t)

	var captured llm.GenerateRequest
	f.gateway.TextFunc = func(req llm.GenerateRequest) (string, error) {
		captured = req
		return "odpowiedź", nil
	}

	if _, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion); err != nil {
		t.Fatalf("ProcessFast: %v", err)
	}

	if captured.SystemPrompt != assembler.SystemPrompt {
		t.Error("fast tier did not use the base system prompt")
	}
	if captured.Model != "mistral:7b" {
		t.Errorf("model = %q", captured.Model)
	}
	if !strings.Contains(captured.Prompt, testQuestion) {
		t.Error("prompt missing the question")
	}
	if !strings.Contains(captured.Prompt, "=== Kodeks cywilny ===") {
		t.Error("prompt missing the act section")
	}
	if !strings.Contains(captured.Prompt, "Powiązane akty prawne") {
		t.Error("prompt missing the related acts section")
	}
}

func TestProcessFast_PassesSearchTuning(t *testing.T) {
	f := newFixture(t)
	f.orc.cfg.TopK = 5
	f.orc.cfg.Threshold = 0.4
	f.orc.cfg.MinResults = 2

	if _, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion); err != nil {
		t.Fatalf("ProcessFast: %v", err)
	}

	for _, c := range f.idx.Calls() {
		if c.Method != "Search" {
			continue
		}
		cfg := c.Args["config"].(index.SearchConfig)
		if cfg.TopK != 5 || cfg.Threshold != 0.4 || cfg.MinResults != 2 {
			t.Errorf("search config = %+v", cfg)
		}
		return
	}
	t.Fatal("Search was never called")
}

func TestProcessFast_InvalidQuestion(t *testing.T) {
	f := newFixture(t)

	// Padding does not count toward the minimum length.
	for _, q := range []string{"krótko", "   krótko   "} {
		_, err := f.orc.ProcessFast(context.Background(), "user-1", q)
		if !errors.Is(err, querystore.ErrInvalidQuestion) {
			t.Fatalf("question %q: err = %v, want ErrInvalidQuestion", q, err)
		}
	}
	if f.gateway.CallCount("GenerateEmbedding") != 0 {
		t.Error("embedding generated for an invalid question")
	}
}

func TestProcessFast_TrimsQuestion(t *testing.T) {
	f := newFixture(t)

	rec, err := f.orc.ProcessFast(context.Background(), "user-1", "  "+testQuestion+"\n")
	if err != nil {
		t.Fatalf("ProcessFast: %v", err)
	}
	if rec.Question != testQuestion {
		t.Errorf("stored question = %q, want %q", rec.Question, testQuestion)
	}

	stored, err := f.store.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Question != testQuestion {
		t.Errorf("persisted question = %q, want %q", stored.Question, testQuestion)
	}
}

func TestProcessFast_RefusesWithoutRelevantActs(t *testing.T) {
	f := newFixture(t)
	f.idx.SearchErr = fmt.Errorf("search: %w", index.ErrNoRelevantActs)

	_, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion)
	if !errors.Is(err, index.ErrNoRelevantActs) {
		t.Fatalf("err = %v, want ErrNoRelevantActs", err)
	}
	if f.gateway.CallCount("GenerateText") != 0 {
		t.Error("generation attempted after refusal")
	}
	if f.store.CallCount("UpdateFast") != 0 {
		t.Error("fast response stored after refusal")
	}
}

func TestProcessFast_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.TextErr = fmt.Errorf("generate: %w", llm.ErrTimeout)

	_, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion)
	if !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if f.store.CallCount("UpdateFast") != 0 {
		t.Error("fast response stored despite generation failure")
	}

	snap := f.orc.Collector().Snapshot()
	if snap.ErrorsTotal != 1 {
		t.Errorf("errors total = %d, want 1", snap.ErrorsTotal)
	}
}

func TestProcessFast_RelationFailureDegradesGracefully(t *testing.T) {
	f := newFixture(t)
	f.idx.RelatedErr = errors.New("graph unavailable")

	rec, err := f.orc.ProcessFast(context.Background(), "user-1", testQuestion)
	if err != nil {
		t.Fatalf("ProcessFast: %v", err)
	}

	bundle, _ := f.cache.Get(context.Background(), rec.ID)
	if bundle == nil {
		t.Fatal("bundle not cached")
	}
	if len(bundle.RelatedActs) != 0 {
		t.Errorf("related acts = %d, want none after traversal failure", len(bundle.RelatedActs))
	}
	if strings.Contains(bundle.LegalContext, "Powiązane akty prawne") {
		t.Error("context contains a related acts section without related acts")
	}
}

// fastRecord creates a query record with its fast slot already filled, the
// precondition for the accurate tier.
func fastRecord(t *testing.T, f *fixture) string {
	t.Helper()
	rec, err := f.store.Create(context.Background(), "user-1", testQuestion)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = f.store.UpdateFast(context.Background(), rec.ID, querystore.FastResponse{
		Content: "szybka odpowiedź", ModelName: "mistral:7b",
	})
	if err != nil {
		t.Fatalf("UpdateFast: %v", err)
	}
	return rec.ID
}

func TestProcessAccurate_CacheHit(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)

	legalContext := assembler.BuildLegalContext(testResults, testRelated)
	err := f.cache.Put(context.Background(), id, ragcache.Bundle{
		Results: testResults, RelatedActs: testRelated,
		LegalContext: legalContext, CachedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("cache Put: %v", err)
	}

	var captured llm.GenerateRequest
	f.gateway.TextFunc = func(req llm.GenerateRequest) (string, error) {
		captured = req
		return "dokładna odpowiedź", nil
	}

	resp, err := f.orc.ProcessAccurate(context.Background(), id)
	if err != nil {
		t.Fatalf("ProcessAccurate: %v", err)
	}
	if resp.ModelName != "gpt-oss:120b" {
		t.Errorf("model = %q", resp.ModelName)
	}

	// A cache hit must skip the whole retrieval pass.
	if f.gateway.CallCount("GenerateEmbedding") != 0 {
		t.Error("embedding recomputed despite cache hit")
	}
	if f.idx.CallCount("Search") != 0 {
		t.Error("search repeated despite cache hit")
	}
	if captured.SystemPrompt != assembler.EnhancedSystemPrompt {
		t.Error("accurate tier did not use the enhanced system prompt")
	}

	stored, _ := f.store.GetByID(context.Background(), id)
	if stored.Accurate == nil || stored.Accurate.Content != "dokładna odpowiedź" {
		t.Error("accurate response not persisted")
	}

	snap := f.orc.Collector().Snapshot()
	if snap.CacheHits != 1 || snap.CacheMisses != 0 {
		t.Errorf("cache hits/misses = %d/%d, want 1/0", snap.CacheHits, snap.CacheMisses)
	}
}

func TestProcessAccurate_CacheMissRecomputes(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)

	resp, err := f.orc.ProcessAccurate(context.Background(), id)
	if err != nil {
		t.Fatalf("ProcessAccurate: %v", err)
	}
	if resp.Content == "" {
		t.Error("empty accurate content")
	}

	if f.gateway.CallCount("GenerateEmbedding") != 1 {
		t.Error("cache miss did not re-embed the question")
	}
	if f.idx.CallCount("Search") != 1 {
		t.Error("cache miss did not re-run search")
	}
	// No second record is created for the recompute.
	if f.store.CallCount("Create") != 1 {
		t.Error("recompute created a new query record")
	}

	// The recomputed bundle is cached again.
	if bundle, _ := f.cache.Get(context.Background(), id); bundle == nil {
		t.Error("recomputed context not re-cached")
	}

	snap := f.orc.Collector().Snapshot()
	if snap.CacheMisses != 1 {
		t.Errorf("cache misses = %d, want 1", snap.CacheMisses)
	}
}

func TestProcessAccurate_UnknownQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.orc.ProcessAccurate(context.Background(), "missing")
	if !errors.Is(err, querystore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessAccurate_RequiresFastResponse(t *testing.T) {
	f := newFixture(t)
	rec, err := f.store.Create(context.Background(), "user-1", testQuestion)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = f.orc.ProcessAccurate(context.Background(), rec.ID)
	if !errors.Is(err, querystore.ErrFastMissing) {
		t.Fatalf("err = %v, want ErrFastMissing", err)
	}
}

func TestProcessAccurate_RejectsSecondGeneration(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)
	err := f.store.UpdateAccurate(context.Background(), id, querystore.AccurateResponse{
		Content: "już jest", ModelName: "gpt-oss:120b",
	})
	if err != nil {
		t.Fatalf("UpdateAccurate: %v", err)
	}

	_, err = f.orc.ProcessAccurate(context.Background(), id)
	if !errors.Is(err, ErrAccurateExists) {
		t.Fatalf("err = %v, want ErrAccurateExists", err)
	}
	if f.gateway.CallCount("GenerateText") != 0 {
		t.Error("generation attempted for an already answered query")
	}
}

func TestDispatcher_RunsSubmittedTask(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)

	done := make(chan struct{})
	f.gateway.TextFunc = func(req llm.GenerateRequest) (string, error) {
		defer close(done)
		return "w tle", nil
	}

	d := NewDispatcher(f.orc, WithWorkers(1))
	d.Start(context.Background())
	defer d.Stop()

	if err := d.Submit(id); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background task did not run")
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)

	d := NewDispatcher(f.orc, WithWorkers(1))
	d.Start(context.Background())

	if err := d.Submit(id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Stop()

	stored, _ := f.store.GetByID(context.Background(), id)
	if stored.Accurate == nil {
		t.Error("queued task not completed before Stop returned")
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	f := newFixture(t)
	// No Start: nothing consumes the queue.
	d := NewDispatcher(f.orc, WithQueueSize(1))

	if err := d.Submit("q1"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := d.Submit("q2"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.orc)
	d.Start(context.Background())
	d.Stop()

	if err := d.Submit("q1"); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("err = %v, want ErrDispatcherStopped", err)
	}
}

func TestDispatcher_ConcurrentSubmitAndStop(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.orc, WithWorkers(2))
	d.Start(context.Background())

	// Hammer Submit from many goroutines while Stop closes the queue. Every
	// call must return an error or nil, never panic with a send on a closed
	// channel.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := d.Submit("q1"); errors.Is(err, ErrDispatcherStopped) {
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	d.Stop()
	wg.Wait()
}

func TestDispatcher_SwallowsTaskFailure(t *testing.T) {
	f := newFixture(t)
	id := fastRecord(t, f)

	var once sync.Once
	done := make(chan struct{})
	f.gateway.TextFunc = func(req llm.GenerateRequest) (string, error) {
		once.Do(func() { close(done) })
		return "", fmt.Errorf("generate: %w", llm.ErrUnavailable)
	}

	d := NewDispatcher(f.orc, WithWorkers(1))
	d.Start(context.Background())

	if err := d.Submit(id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-done
	d.Stop()

	// The failure is logged, not propagated; the record just stays without an
	// accurate response.
	stored, _ := f.store.GetByID(context.Background(), id)
	if stored.Accurate != nil {
		t.Error("accurate response set despite generation failure")
	}
}
