// Package mock provides a recording test double for the llm.Gateway interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
)

// Call records one method invocation on the gateway.
type Call struct {
	Method string
	Args   map[string]any
}

// Gateway is a configurable llm.Gateway double. Set the *Result / *Err fields
// before use; every invocation is recorded and can be inspected with Calls and
// CallCount. Safe for concurrent use.
type Gateway struct {
	mu    sync.Mutex
	calls []Call

	HealthResult bool

	ModelsResult []string
	ModelsErr    error

	ValidResult bool
	ValidErr    error

	TextResult string
	TextErr    error
	// TextFunc, when set, overrides TextResult/TextErr per call.
	TextFunc func(req llm.GenerateRequest) (string, error)

	StructuredResult map[string]any
	StructuredErr    error

	EmbeddingResult []float32
	EmbeddingErr    error

	WarmupResult bool
}

var _ llm.Gateway = (*Gateway)(nil)

func (g *Gateway) record(method string, args map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of every recorded invocation in order.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (g *Gateway) CallCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (g *Gateway) HealthCheck(ctx context.Context, force bool) bool {
	g.record("HealthCheck", map[string]any{"force": force})
	return g.HealthResult
}

func (g *Gateway) ListModels(ctx context.Context, refresh bool) ([]string, error) {
	g.record("ListModels", map[string]any{"refresh": refresh})
	return g.ModelsResult, g.ModelsErr
}

func (g *Gateway) ValidateModel(ctx context.Context, model string) (bool, error) {
	g.record("ValidateModel", map[string]any{"model": model})
	return g.ValidResult, g.ValidErr
}

func (g *Gateway) GenerateText(ctx context.Context, req llm.GenerateRequest) (string, error) {
	g.record("GenerateText", map[string]any{"model": req.Model, "prompt": req.Prompt})
	if g.TextFunc != nil {
		return g.TextFunc(req)
	}
	return g.TextResult, g.TextErr
}

func (g *Gateway) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (map[string]any, error) {
	g.record("GenerateStructured", map[string]any{"model": req.Model, "prompt": req.Prompt})
	return g.StructuredResult, g.StructuredErr
}

func (g *Gateway) GenerateEmbedding(ctx context.Context, text, model string, timeout time.Duration) ([]float32, error) {
	g.record("GenerateEmbedding", map[string]any{"text": text, "model": model})
	return g.EmbeddingResult, g.EmbeddingErr
}

func (g *Gateway) Warmup(ctx context.Context, model string, timeout time.Duration) bool {
	g.record("Warmup", map[string]any{"model": model})
	return g.WarmupResult
}

func (g *Gateway) WarmupAll(ctx context.Context, models []string) {
	g.record("WarmupAll", map[string]any{"models": models})
}
