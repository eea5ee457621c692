// Package llm defines the Gateway interface to the local inference server that
// hosts the PrawnikGPT models.
//
// The gateway is the single admission-control point for every outbound model
// request: it owns one counting semaphore per configured model (fast, accurate,
// embedding) so that no caller, foreground pipeline or background task alike,
// can saturate the inference server with parallel requests to the same model.
//
// Implementations must be safe for concurrent use. Each method must propagate
// context cancellation promptly.
package llm

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Gateway implementations. Callers distinguish
// them with errors.Is; all are wrapped with operation context.
var (
	// ErrModelNotFound indicates the inference server does not have the
	// requested model pulled.
	ErrModelNotFound = errors.New("model not found on inference server")

	// ErrOutOfMemory indicates the inference server ran out of memory while
	// loading or running the model.
	ErrOutOfMemory = errors.New("inference server out of memory")

	// ErrTimeout indicates the per-request deadline elapsed before the server
	// produced a response.
	ErrTimeout = errors.New("inference request timed out")

	// ErrUnavailable indicates a transport failure or a non-2xx response that
	// persisted after retries.
	ErrUnavailable = errors.New("inference server unavailable")

	// ErrEmbedding indicates embedding generation failed for reasons other
	// than transport (empty input, empty vector in response).
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrBadOutput indicates structured generation produced output that could
	// not be parsed as JSON even after substring extraction.
	ErrBadOutput = errors.New("unparseable structured output")
)

// GenerateRequest carries everything needed for a free-form text generation.
// Model and Prompt are required; zero-valued sampling fields fall back to the
// gateway defaults (temperature 0.3, top_p 0.9, top_k 40).
type GenerateRequest struct {
	// Prompt is the user prompt. Must be non-empty.
	Prompt string

	// Model is the inference server model name (e.g., "mistral:7b").
	Model string

	// SystemPrompt is an optional system instruction sent alongside the prompt.
	SystemPrompt string

	// Temperature controls sampling randomness. Zero means the default (0.3).
	Temperature float64

	// TopP is the nucleus-sampling cutoff. Zero means the default (0.9).
	TopP float64

	// TopK limits sampling to the K most likely tokens. Zero means the
	// default (40).
	TopK int

	// NumCtx overrides the model's context window size when positive.
	NumCtx int

	// Seed fixes the sampling seed when non-nil, for reproducible output.
	Seed *int

	// Timeout is the per-request deadline. Zero selects a timeout by model
	// class: the configured fast or accurate budget, or the default read
	// timeout for other models.
	Timeout time.Duration
}

// StructuredRequest carries a JSON-constrained generation request. The gateway
// extends SystemPrompt with a schema instruction block and sets the server's
// JSON-mode flag.
type StructuredRequest struct {
	// Prompt is the user prompt. Must be non-empty.
	Prompt string

	// Model is the inference server model name.
	Model string

	// Schema is the JSON schema the response must conform to. Rendered
	// pretty-printed into the system prompt.
	Schema map[string]any

	// Example is an optional example object included after the schema.
	Example map[string]any

	// SystemPrompt is the base system instruction; the schema block is
	// appended to it.
	SystemPrompt string

	// Temperature controls sampling randomness. Zero means the default (0.3).
	Temperature float64

	// Timeout is the per-request deadline. Zero selects by model class.
	Timeout time.Duration
}

// Gateway is the abstraction over the local inference server.
type Gateway interface {
	// HealthCheck probes the inference server's liveness endpoint. The last
	// result is cached for 30 seconds; force bypasses the cache. Returns
	// false, never an error, when the server cannot be reached.
	HealthCheck(ctx context.Context, force bool) bool

	// ListModels returns the names of the models available on the server.
	// The catalog is cached for five minutes; refresh bypasses the cache.
	ListModels(ctx context.Context, refresh bool) ([]string, error)

	// ValidateModel reports whether the named model is present in the server
	// catalog. Results are memoised against the cached model list.
	ValidateModel(ctx context.Context, model string) (bool, error)

	// GenerateText produces a completion for req. Acquires the semaphore for
	// req.Model for the full lifetime of the request, retries at most once on
	// transport failure, and fails with ErrModelNotFound, ErrOutOfMemory,
	// ErrTimeout, or ErrUnavailable.
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)

	// GenerateStructured produces a JSON object conforming to req.Schema.
	// Parsing falls back to extracting the first {...} substring when the raw
	// response is not valid JSON; if that also fails the call returns
	// ErrBadOutput.
	GenerateStructured(ctx context.Context, req StructuredRequest) (map[string]any, error)

	// GenerateEmbedding computes the embedding vector for text using the
	// given model (empty means the configured embedding model). Leading and
	// trailing whitespace is trimmed; empty input fails with ErrEmbedding.
	GenerateEmbedding(ctx context.Context, text, model string, timeout time.Duration) ([]float32, error)

	// Warmup issues a trivial low-temperature generation against model to
	// force it into server memory. Best-effort: failures are logged and
	// reported as false, never as an error.
	Warmup(ctx context.Context, model string, timeout time.Duration) bool

	// WarmupAll warms every listed model in parallel. An empty list warms the
	// configured fast, accurate, and embedding models.
	WarmupAll(ctx context.Context, models []string)
}
