// Package pipeline orchestrates the two-tier answer flow: retrieval, prompt
// assembly, generation, and persistence.
//
// The fast tier does the full retrieval pass and answers within its tight
// latency budget; the accurate tier reuses the cached retrieval context (or
// recomputes it after cache expiry) and spends a much larger budget on a
// deeper answer. Both tiers run through the same [Orchestrator]; the accurate
// tier is normally dispatched in the background via [Dispatcher].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prawnikgpt/prawnikgpt/internal/assembler"
	"github.com/prawnikgpt/prawnikgpt/internal/observe"
	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
	"github.com/prawnikgpt/prawnikgpt/internal/ragcache"
	"github.com/prawnikgpt/prawnikgpt/pkg/index"
	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
)

// ErrAccurateExists indicates an accurate response was requested for a query
// that already has one.
var ErrAccurateExists = errors.New("accurate response already generated")

// Config tunes the orchestrator. Zero values fall back to the package
// defaults of the retrieval layer and prompt assembler.
type Config struct {
	// FastModel and AccurateModel are the inference model names per tier.
	FastModel     string
	AccurateModel string

	// EmbeddingModel embeds questions for semantic search. Empty selects the
	// gateway's configured embedding model.
	EmbeddingModel string

	// TopK, Threshold, and MinResults tune semantic search.
	TopK       int
	Threshold  float64
	MinResults int

	// RelatedDepth is the relation graph traversal depth (1 or 2).
	RelatedDepth int

	// MaxContextTokens is the prompt context budget before truncation.
	MaxContextTokens int
}

func (c *Config) applyDefaults() {
	if c.TopK == 0 {
		c.TopK = index.DefaultTopK
	}
	if c.Threshold == 0 {
		c.Threshold = index.DefaultThreshold
	}
	if c.MinResults == 0 {
		c.MinResults = index.MinResults
	}
	if c.RelatedDepth == 0 {
		c.RelatedDepth = index.MaxDepth
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = assembler.DefaultMaxContextTokens
	}
}

// Orchestrator runs the answer pipeline. Safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	gateway   llm.Gateway
	idx       index.Index
	store     querystore.Store
	cache     ragcache.Cache
	metrics   *observe.Metrics
	collector *observe.Collector
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the OTel instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCollector sets the rolling-window collector. Defaults to a fresh one.
func WithCollector(c *observe.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// New creates an Orchestrator over the given dependencies.
func New(cfg Config, gateway llm.Gateway, idx index.Index, store querystore.Store, cache ragcache.Cache, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		gateway: gateway,
		idx:     idx,
		store:   store,
		cache:   cache,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.collector == nil {
		o.collector = observe.NewCollector()
	}
	return o
}

// Collector returns the orchestrator's rolling-window collector, for the
// introspection endpoint and periodic logging.
func (o *Orchestrator) Collector() *observe.Collector {
	return o.collector
}

// ProcessFast runs the full fast-tier pipeline for a new question: create the
// query record, embed, search, traverse relations, assemble the prompt,
// generate, persist, and cache the retrieval context for the accurate tier.
// Returns the record with its fast response filled in.
func (o *Orchestrator) ProcessFast(ctx context.Context, userID, question string) (*querystore.QueryRecord, error) {
	start := time.Now()
	rec, err := o.store.Create(ctx, userID, question)
	if err != nil {
		o.finishQuery(ctx, "fast", start, err)
		return nil, fmt.Errorf("pipeline: create query: %w", err)
	}
	log := o.logger.With("query_id", rec.ID, "tier", "fast")

	// The stored question is the trimmed one; use it from here on.
	question = rec.Question

	bundle, err := o.retrieve(ctx, question, log)
	if err != nil {
		o.finishQuery(ctx, "fast", start, err)
		return nil, err
	}

	genStart := time.Now()
	answer, err := o.gateway.GenerateText(ctx, llm.GenerateRequest{
		Prompt:       assembler.BuildPrompt(question, bundle.LegalContext),
		Model:        o.cfg.FastModel,
		SystemPrompt: assembler.SystemPrompt,
	})
	genElapsed := time.Since(genStart)
	if err != nil {
		o.recordGatewayError(ctx, o.cfg.FastModel, err)
		o.finishQuery(ctx, "fast", start, err)
		return nil, fmt.Errorf("pipeline: fast generation: %w", err)
	}
	o.metrics.RecordGeneration(ctx, "fast", genElapsed.Seconds())
	o.collector.ObserveDuration(observe.SeriesFast, genElapsed)

	fast := querystore.FastResponse{
		Content:          answer,
		Sources:          assembler.ExtractSources(bundle.Results),
		ModelName:        o.cfg.FastModel,
		GenerationTimeMs: int(genElapsed.Milliseconds()),
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.store.UpdateFast(ctx, rec.ID, fast); err != nil {
		o.finishQuery(ctx, "fast", start, err)
		return nil, fmt.Errorf("pipeline: store fast response: %w", err)
	}
	rec.Fast = &fast

	// Cache failures only cost the accurate tier a recompute.
	if err := o.cache.Put(ctx, rec.ID, *bundle); err != nil {
		log.Warn("context cache store failed", "error", err)
	}

	o.finishQuery(ctx, "fast", start, nil)
	log.Info("fast response ready",
		"generation_ms", fast.GenerationTimeMs,
		"fragments", len(bundle.Results),
		"related_acts", len(bundle.RelatedActs),
	)
	return rec, nil
}

// ProcessAccurate generates the accurate-tier response for an existing query.
// The retrieval context comes from the cache when still valid; otherwise it is
// recomputed from the stored question without creating a new record.
func (o *Orchestrator) ProcessAccurate(ctx context.Context, queryID string) (*querystore.AccurateResponse, error) {
	start := time.Now()
	rec, err := o.store.GetByID(ctx, queryID)
	if err != nil {
		o.finishQuery(ctx, "accurate", start, err)
		return nil, fmt.Errorf("pipeline: load query: %w", err)
	}
	if rec.Fast == nil {
		o.finishQuery(ctx, "accurate", start, querystore.ErrFastMissing)
		return nil, fmt.Errorf("pipeline: query %s: %w", queryID, querystore.ErrFastMissing)
	}
	if rec.Accurate != nil {
		o.finishQuery(ctx, "accurate", start, ErrAccurateExists)
		return nil, fmt.Errorf("pipeline: query %s: %w", queryID, ErrAccurateExists)
	}
	log := o.logger.With("query_id", queryID, "tier", "accurate")

	bundle, err := o.cache.Get(ctx, queryID)
	if err != nil {
		log.Warn("context cache read failed", "error", err)
		bundle = nil
	}
	if bundle != nil {
		o.metrics.RecordCacheEvent(ctx, "hit")
		o.collector.CacheHit()
	} else {
		o.metrics.RecordCacheEvent(ctx, "miss")
		o.collector.CacheMiss()
		bundle, err = o.retrieve(ctx, rec.Question, log)
		if err != nil {
			o.finishQuery(ctx, "accurate", start, err)
			return nil, err
		}
		if err := o.cache.Put(ctx, queryID, *bundle); err != nil {
			log.Warn("context cache store failed", "error", err)
		}
	}

	genStart := time.Now()
	answer, err := o.gateway.GenerateText(ctx, llm.GenerateRequest{
		Prompt:       assembler.BuildPrompt(rec.Question, bundle.LegalContext),
		Model:        o.cfg.AccurateModel,
		SystemPrompt: assembler.EnhancedSystemPrompt,
	})
	genElapsed := time.Since(genStart)
	if err != nil {
		o.recordGatewayError(ctx, o.cfg.AccurateModel, err)
		o.finishQuery(ctx, "accurate", start, err)
		return nil, fmt.Errorf("pipeline: accurate generation: %w", err)
	}
	o.metrics.RecordGeneration(ctx, "accurate", genElapsed.Seconds())
	o.collector.ObserveDuration(observe.SeriesAccurate, genElapsed)

	accurate := querystore.AccurateResponse{
		Content:          answer,
		ModelName:        o.cfg.AccurateModel,
		GenerationTimeMs: int(genElapsed.Milliseconds()),
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.store.UpdateAccurate(ctx, queryID, accurate); err != nil {
		o.finishQuery(ctx, "accurate", start, err)
		return nil, fmt.Errorf("pipeline: store accurate response: %w", err)
	}

	o.finishQuery(ctx, "accurate", start, nil)
	log.Info("accurate response ready", "generation_ms", accurate.GenerationTimeMs)
	return &accurate, nil
}

// retrieve runs the shared retrieval pass: embed the question, search the
// corpus, traverse the relation graph, and render the truncated context block.
func (o *Orchestrator) retrieve(ctx context.Context, question string, log *slog.Logger) (*ragcache.Bundle, error) {
	embStart := time.Now()
	embedding, err := o.gateway.GenerateEmbedding(ctx, question, o.cfg.EmbeddingModel, 0)
	embElapsed := time.Since(embStart)
	if err != nil {
		o.recordGatewayError(ctx, o.cfg.EmbeddingModel, err)
		return nil, fmt.Errorf("pipeline: embed question: %w", err)
	}
	o.metrics.EmbeddingDuration.Record(ctx, embElapsed.Seconds())
	o.collector.ObserveDuration(observe.SeriesEmbedding, embElapsed)

	searchStart := time.Now()
	results, err := o.idx.Search(ctx, embedding,
		index.WithTopK(o.cfg.TopK),
		index.WithThreshold(o.cfg.Threshold),
		index.WithMinResults(o.cfg.MinResults),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: semantic search: %w", err)
	}

	actIDs := make([]string, 0, len(results))
	seen := make(map[string]struct{})
	for _, r := range results {
		if _, ok := seen[r.ActID]; ok || r.ActID == "" {
			continue
		}
		seen[r.ActID] = struct{}{}
		actIDs = append(actIDs, r.ActID)
	}

	// Related acts enrich the context; losing them degrades the answer but
	// does not justify failing the query.
	related, err := o.idx.RelatedActs(ctx, actIDs, o.cfg.RelatedDepth, nil)
	if err != nil {
		log.Warn("relation traversal failed", "error", err)
		related = nil
	}
	searchElapsed := time.Since(searchStart)
	o.metrics.SearchDuration.Record(ctx, searchElapsed.Seconds())
	o.collector.ObserveDuration(observe.SeriesSearch, searchElapsed)

	legalContext := assembler.BuildLegalContext(results, related)
	legalContext, truncated := assembler.TruncateContext(legalContext, o.cfg.MaxContextTokens)
	if truncated {
		log.Debug("context truncated to token budget", "max_tokens", o.cfg.MaxContextTokens)
	}

	return &ragcache.Bundle{
		Results:      results,
		RelatedActs:  related,
		LegalContext: legalContext,
		CachedAt:     time.Now().UTC(),
	}, nil
}

// finishQuery records the per-tier pipeline duration and query outcome.
func (o *Orchestrator) finishQuery(ctx context.Context, tier string, start time.Time, err error) {
	elapsed := time.Since(start)
	o.metrics.RecordPipeline(ctx, tier, elapsed.Seconds())
	o.collector.ObserveDuration(observe.SeriesPipeline, elapsed)

	status := "ok"
	switch {
	case errors.Is(err, index.ErrNoRelevantActs):
		status = "refused"
	case err != nil:
		status = "error"
	}
	o.metrics.RecordQuery(ctx, tier, status)
	o.collector.Query(status == "error")
}

// recordGatewayError classifies an inference failure for the error counter.
func (o *Orchestrator) recordGatewayError(ctx context.Context, model string, err error) {
	kind := "other"
	switch {
	case errors.Is(err, llm.ErrModelNotFound):
		kind = "model_not_found"
	case errors.Is(err, llm.ErrOutOfMemory):
		kind = "out_of_memory"
	case errors.Is(err, llm.ErrTimeout):
		kind = "timeout"
	case errors.Is(err, llm.ErrUnavailable):
		kind = "unavailable"
	case errors.Is(err, llm.ErrEmbedding):
		kind = "embedding"
	}
	o.metrics.RecordGatewayError(ctx, model, kind)
}
