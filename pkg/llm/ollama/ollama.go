// Package ollama implements the llm.Gateway interface against a local Ollama
// server (https://ollama.com).
//
// Three endpoints are consumed: /api/version for liveness, /api/tags for the
// model catalog, and /api/generate plus /api/embeddings for inference. Only
// net/http and encoding/json are needed for the wire protocol; the server's
// error bodies are inspected as lowercase text to tell a missing model (404,
// "model ... not found") from an out-of-memory condition (5xx, "memory"/"oom").
//
// Admission control is built in: every generation or embedding request holds
// the counting semaphore of its target model for the full request lifetime,
// retries included. The fast, accurate, and embedding models each get their
// own semaphore sized from configuration; all other models share a default
// semaphore.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
)

// DefaultBaseURL is the default address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Cache lifetimes and probe budgets.
const (
	healthCacheTTL    = 30 * time.Second
	modelCacheTTL     = 5 * time.Minute
	healthProbeBudget = 2 * time.Second
	listModelsBudget  = 5 * time.Second
	defaultWarmup     = 30 * time.Second
)

// Default sampling parameters applied when a request leaves them zero.
const (
	defaultTemperature = 0.3
	defaultTopP        = 0.9
	defaultTopK        = 40
)

// Memory-pressure thresholds for the optional debug sampler.
const (
	memWarnPercent     = 80.0
	memCriticalPercent = 90.0
)

// Ensure Client implements the llm.Gateway interface at compile time.
var _ llm.Gateway = (*Client)(nil)

// ModelConfig sizes one configured model: its server name, the number of
// requests admitted concurrently, and its generation deadline.
type ModelConfig struct {
	Name        string
	Concurrency int64
	Timeout     time.Duration
}

// Config holds the model map and transport tuning for a Client.
type Config struct {
	// Fast, Accurate, and Embedding describe the three configured models.
	// Each gets a dedicated semaphore of the given capacity.
	Fast      ModelConfig
	Accurate  ModelConfig
	Embedding ModelConfig

	// DefaultConcurrency caps in-flight requests to any model outside the
	// configured three. Zero means 3.
	DefaultConcurrency int64

	// MaxRetries bounds retries of connection-oriented operations (health,
	// tags, embeddings) on transport failure. Zero means 3.
	MaxRetries int

	// RetryDelay is the base backoff delay; attempt n waits RetryDelay * 2^n.
	// Zero means 500ms.
	RetryDelay time.Duration

	// ConnectTimeout bounds TCP connection establishment. Zero means 5s.
	ConnectTimeout time.Duration

	// ReadTimeout is the deadline for generations against models without a
	// configured class. Zero means 300s.
	ReadTimeout time.Duration
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMemorySampler enables debug memory sampling around each generation.
// sample reports current process memory as a percentage of the host total;
// ok=false means the platform cannot supply a percentage and the sample is
// skipped. observe, when non-nil, receives every sampled value so it can be
// turned into a metric point.
func WithMemorySampler(sample func() (percent float64, ok bool), observe func(percent float64)) Option {
	return func(c *Client) {
		c.memSample = sample
		c.memObserve = observe
	}
}

// Client talks to a single Ollama server. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     Config

	// sems maps the configured model names to their semaphores; every other
	// model shares defaultSem.
	sems       map[string]*semaphore.Weighted
	defaultSem *semaphore.Weighted

	healthMu sync.Mutex
	healthOK bool
	healthAt time.Time

	modelsMu sync.Mutex
	models   map[string]bool
	modelsAt time.Time

	memSample  func() (float64, bool)
	memObserve func(float64)
}

// New constructs a Client for the Ollama server at baseURL (empty means
// DefaultBaseURL). The three models in cfg must have non-empty names.
func New(baseURL string, cfg Config, opts ...Option) (*Client, error) {
	if cfg.Fast.Name == "" || cfg.Accurate.Name == "" || cfg.Embedding.Name == "" {
		return nil, fmt.Errorf("ollama: fast, accurate, and embedding model names must all be set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	applyDefaults(&cfg)

	c := &Client{
		baseURL: baseURL,
		cfg:     cfg,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		sems: map[string]*semaphore.Weighted{
			cfg.Fast.Name:      semaphore.NewWeighted(cfg.Fast.Concurrency),
			cfg.Accurate.Name:  semaphore.NewWeighted(cfg.Accurate.Concurrency),
			cfg.Embedding.Name: semaphore.NewWeighted(cfg.Embedding.Concurrency),
		},
		defaultSem: semaphore.NewWeighted(cfg.DefaultConcurrency),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Fast.Concurrency <= 0 {
		cfg.Fast.Concurrency = 3
	}
	if cfg.Accurate.Concurrency <= 0 {
		cfg.Accurate.Concurrency = 1
	}
	if cfg.Embedding.Concurrency <= 0 {
		cfg.Embedding.Concurrency = 3
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 300 * time.Second
	}
	if cfg.Fast.Timeout <= 0 {
		cfg.Fast.Timeout = 15 * time.Second
	}
	if cfg.Accurate.Timeout <= 0 {
		cfg.Accurate.Timeout = 240 * time.Second
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
}

// semFor returns the admission semaphore for model.
func (c *Client) semFor(model string) *semaphore.Weighted {
	if s, ok := c.sems[model]; ok {
		return s
	}
	return c.defaultSem
}

// timeoutFor selects the deadline for a generation against model when the
// request does not carry one.
func (c *Client) timeoutFor(model string) time.Duration {
	switch model {
	case c.cfg.Fast.Name:
		return c.cfg.Fast.Timeout
	case c.cfg.Accurate.Name:
		return c.cfg.Accurate.Timeout
	case c.cfg.Embedding.Name:
		return c.cfg.Embedding.Timeout
	}
	return c.cfg.ReadTimeout
}

// ─────────────────────────────────────────────────────────────────────────────
// Health and model catalog
// ─────────────────────────────────────────────────────────────────────────────

// HealthCheck implements [llm.Gateway]. The probe result is cached for 30
// seconds; force bypasses the cache. Fails closed: any transport error yields
// false, and false results are cached like true ones.
func (c *Client) HealthCheck(ctx context.Context, force bool) bool {
	c.healthMu.Lock()
	if !force && time.Since(c.healthAt) < healthCacheTTL {
		ok := c.healthOK
		c.healthMu.Unlock()
		return ok
	}
	c.healthMu.Unlock()

	ok := c.probeVersion(ctx)

	c.healthMu.Lock()
	c.healthOK = ok
	c.healthAt = time.Now()
	c.healthMu.Unlock()
	return ok
}

func (c *Client) probeVersion(ctx context.Context) bool {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !c.backoff(ctx, attempt-1) {
				return false
			}
		}
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeBudget)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/api/version", nil)
		if err != nil {
			cancel()
			return false
		}
		resp, err := c.http.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	slog.Warn("ollama health probe failed", "err", lastErr)
	return false
}

// tagsResponse is the JSON body of GET /api/tags. Only the model names are used.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels implements [llm.Gateway]. The catalog is cached for five
// minutes; refresh bypasses the cache.
func (c *Client) ListModels(ctx context.Context, refresh bool) ([]string, error) {
	c.modelsMu.Lock()
	if !refresh && c.models != nil && time.Since(c.modelsAt) < modelCacheTTL {
		names := make([]string, 0, len(c.models))
		for name := range c.models {
			names = append(names, name)
		}
		c.modelsMu.Unlock()
		return names, nil
	}
	c.modelsMu.Unlock()

	var tags tagsResponse
	err := c.withRetries(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, listModelsBudget)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return transportError{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&tags)
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", errors.Join(llm.ErrUnavailable, err))
	}

	known := make(map[string]bool, len(tags.Models))
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		known[m.Name] = true
		names = append(names, m.Name)
	}

	c.modelsMu.Lock()
	c.models = known
	c.modelsAt = time.Now()
	c.modelsMu.Unlock()
	return names, nil
}

// ValidateModel implements [llm.Gateway]. Memoised against the cached catalog.
func (c *Client) ValidateModel(ctx context.Context, model string) (bool, error) {
	c.modelsMu.Lock()
	if c.models != nil && time.Since(c.modelsAt) < modelCacheTTL {
		known := c.models[model]
		c.modelsMu.Unlock()
		return known, nil
	}
	c.modelsMu.Unlock()

	if _, err := c.ListModels(ctx, true); err != nil {
		return false, err
	}

	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()
	return c.models[model], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Generation
// ─────────────────────────────────────────────────────────────────────────────

// generateRequest is the JSON request body of POST /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	System  string          `json:"system,omitempty"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	Seed        *int    `json:"seed,omitempty"`
}

// generateResponse is the JSON response body of POST /api/generate.
type generateResponse struct {
	Response string `json:"response"`
}

// GenerateText implements [llm.Gateway].
func (c *Client) GenerateText(ctx context.Context, req llm.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("ollama: generate: prompt must not be empty")
	}
	if req.Model == "" {
		return "", fmt.Errorf("ollama: generate: model must not be empty")
	}
	return c.generate(ctx, req, "")
}

// generate runs one admission-controlled generation. format is passed through
// to the server ("json" enables JSON mode, empty means free-form).
func (c *Client) generate(ctx context.Context, req llm.GenerateRequest, format string) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeoutFor(req.Model)
	}

	sem := c.semFor(req.Model)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("ollama: generate: acquire slot for %s: %w", req.Model, err)
	}
	defer sem.Release(1)

	c.sampleMemory("before", req.Model)
	defer c.sampleMemory("after", req.Model)

	body := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		System: req.SystemPrompt,
		Format: format,
		Options: generateOptions{
			Temperature: orDefault(req.Temperature, defaultTemperature),
			TopP:        orDefault(req.TopP, defaultTopP),
			TopK:        orDefaultInt(req.TopK, defaultTopK),
			NumCtx:      req.NumCtx,
			Seed:        req.Seed,
		},
	}

	// Generations are expensive: one retry at most, and only for transport
	// failures. Timeouts and server verdicts surface immediately.
	var text string
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, lastErr = c.postGenerate(ctx, body, timeout)
		if lastErr == nil {
			return text, nil
		}
		var te transportError
		if !errors.As(lastErr, &te) {
			break
		}
	}
	return "", c.classifyGenerateErr(req.Model, timeout, lastErr)
}

// postGenerate issues one POST /api/generate request with the given deadline.
func (c *Client) postGenerate(ctx context.Context, body generateRequest, timeout time.Duration) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return "", deadlineError{err}
		}
		return "", transportError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError{code: resp.StatusCode, body: strings.ToLower(string(raw))}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", transportError{errors.New("empty response body")}
	}
	return strings.TrimSpace(result.Response), nil
}

// classifyGenerateErr maps a raw generation failure onto the gateway error
// taxonomy.
func (c *Client) classifyGenerateErr(model string, timeout time.Duration, err error) error {
	var de deadlineError
	if errors.As(err, &de) {
		return fmt.Errorf("ollama: generate with %s: deadline %s elapsed: %w", model, timeout, llm.ErrTimeout)
	}

	var se statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusNotFound && strings.Contains(se.body, "not found"):
			slog.Error("model missing on inference server; pull it with `ollama pull`", "model", model)
			return fmt.Errorf("ollama: generate with %s: %w", model, llm.ErrModelNotFound)
		case se.code >= 500 && (strings.Contains(se.body, "memory") || strings.Contains(se.body, "oom")):
			slog.Error("inference server out of memory; consider a smaller model or lower concurrency", "model", model)
			return fmt.Errorf("ollama: generate with %s: %w", model, llm.ErrOutOfMemory)
		default:
			return fmt.Errorf("ollama: generate with %s: status %d: %w", model, se.code, llm.ErrUnavailable)
		}
	}

	return fmt.Errorf("ollama: generate with %s: %w", model, errors.Join(llm.ErrUnavailable, err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Structured generation
// ─────────────────────────────────────────────────────────────────────────────

// GenerateStructured implements [llm.Gateway]. It extends the system prompt
// with a schema instruction block, requests the server's JSON mode, and parses
// the response in two stages: strict JSON first, then the first {...}
// substring. The fallback firing is logged; it means the model is drifting
// from the instructed format.
func (c *Client) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (map[string]any, error) {
	if len(req.Schema) == 0 {
		return nil, fmt.Errorf("ollama: generate structured: schema must not be empty")
	}

	system, err := structuredSystemPrompt(req.SystemPrompt, req.Schema, req.Example)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate structured: %w", err)
	}

	text, err := c.generate(ctx, llm.GenerateRequest{
		Prompt:       req.Prompt,
		Model:        req.Model,
		SystemPrompt: system,
		Temperature:  req.Temperature,
		Timeout:      req.Timeout,
	}, "json")
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	// Stage two: pull the outermost {...} out of the raw text and reparse.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
			slog.Warn("structured output required substring extraction", "model", req.Model)
			return obj, nil
		}
	}

	return nil, fmt.Errorf("ollama: generate structured with %s: %w", req.Model, llm.ErrBadOutput)
}

// structuredSystemPrompt renders the schema instruction block appended to the
// caller's system prompt.
func structuredSystemPrompt(base string, schema, example map[string]any) (string, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}

	var sb strings.Builder
	if base != "" {
		sb.WriteString(base)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Your reply must be a single JSON object conforming to this schema:\n")
	sb.Write(schemaJSON)
	if example != nil {
		exampleJSON, err := json.MarshalIndent(example, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal example: %w", err)
		}
		sb.WriteString("\n\nExample:\n")
		sb.Write(exampleJSON)
	}
	sb.WriteString("\n\nReply only with the JSON object. No prose, no markdown fences.")
	return sb.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Embeddings
// ─────────────────────────────────────────────────────────────────────────────

// embedRequest is the JSON request body of POST /api/embeddings.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the JSON response body of POST /api/embeddings.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GenerateEmbedding implements [llm.Gateway].
func (c *Client) GenerateEmbedding(ctx context.Context, text, model string, timeout time.Duration) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("ollama: embed: text must not be empty: %w", llm.ErrEmbedding)
	}
	if model == "" {
		model = c.cfg.Embedding.Name
	}
	if timeout <= 0 {
		timeout = c.cfg.Embedding.Timeout
	}

	sem := c.semFor(model)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ollama: embed: acquire slot for %s: %w", model, err)
	}
	defer sem.Release(1)

	payload, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: marshal request: %w", err)
	}

	var result embedResponse
	err = c.withRetries(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return deadlineError{err}
			}
			return transportError{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		var de deadlineError
		if errors.As(err, &de) {
			return nil, fmt.Errorf("ollama: embed with %s: deadline %s elapsed: %w", model, timeout, llm.ErrTimeout)
		}
		var te transportError
		if errors.As(err, &te) {
			return nil, fmt.Errorf("ollama: embed with %s: %w", model, errors.Join(llm.ErrUnavailable, err))
		}
		return nil, fmt.Errorf("ollama: embed with %s: %w", model, errors.Join(llm.ErrEmbedding, err))
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: embed with %s: no embedding in response: %w", model, llm.ErrEmbedding)
	}
	return result.Embedding, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Warmup
// ─────────────────────────────────────────────────────────────────────────────

// Warmup implements [llm.Gateway]. A trivial low-temperature generation forces
// the model into server memory; failure is logged, never raised.
func (c *Client) Warmup(ctx context.Context, model string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultWarmup
	}
	_, err := c.GenerateText(ctx, llm.GenerateRequest{
		Prompt:      "OK",
		Model:       model,
		Temperature: 0.01,
		Timeout:     timeout,
	})
	if err != nil {
		slog.Warn("model warmup failed", "model", model, "err", err)
		return false
	}
	slog.Info("model warmed up", "model", model)
	return true
}

// WarmupAll implements [llm.Gateway]. Warms every listed model in parallel;
// an empty list warms the three configured models.
func (c *Client) WarmupAll(ctx context.Context, models []string) {
	if len(models) == 0 {
		models = []string{c.cfg.Fast.Name, c.cfg.Accurate.Name, c.cfg.Embedding.Name}
	}
	var g errgroup.Group
	for _, m := range models {
		g.Go(func() error {
			c.Warmup(ctx, m, 0)
			return nil
		})
	}
	g.Wait()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// transportError marks failures that justify a retry.
type transportError struct{ err error }

func (e transportError) Error() string { return e.err.Error() }
func (e transportError) Unwrap() error { return e.err }

// deadlineError marks a per-request timeout, as opposed to caller cancellation.
type deadlineError struct{ err error }

func (e deadlineError) Error() string { return e.err.Error() }
func (e deadlineError) Unwrap() error { return e.err }

// statusError carries a non-2xx verdict with its lowercased body for
// inspection.
type statusError struct {
	code int
	body string
}

func (e statusError) Error() string { return fmt.Sprintf("status %d: %s", e.code, e.body) }

// withRetries runs fn up to MaxRetries times, backing off exponentially, but
// only while fn keeps failing with a transportError. Other errors return
// immediately.
func (c *Client) withRetries(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !c.backoff(ctx, attempt-1) {
				return ctx.Err()
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var te transportError
		if !errors.As(lastErr, &te) {
			return lastErr
		}
	}
	return lastErr
}

// backoff sleeps for RetryDelay * 2^attempt or until ctx is done. Reports
// whether the caller may proceed.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	delay := c.cfg.RetryDelay * (1 << attempt)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// sampleMemory records one debug memory sample, tagging high-pressure values
// as warning or critical log events. No flow control is derived from this.
func (c *Client) sampleMemory(phase, model string) {
	if c.memSample == nil {
		return
	}
	percent, ok := c.memSample()
	if !ok {
		return
	}
	if c.memObserve != nil {
		c.memObserve(percent)
	}
	switch {
	case percent >= memCriticalPercent:
		slog.Error("memory pressure critical", "percent", percent, "phase", phase, "model", model)
	case percent >= memWarnPercent:
		slog.Warn("memory pressure high", "percent", percent, "phase", phase, "model", model)
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
