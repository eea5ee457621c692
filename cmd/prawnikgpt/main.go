// Command prawnikgpt is the main entry point for the PrawnikGPT legal
// question-answering server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prawnikgpt/prawnikgpt/internal/api"
	"github.com/prawnikgpt/prawnikgpt/internal/config"
	"github.com/prawnikgpt/prawnikgpt/internal/health"
	"github.com/prawnikgpt/prawnikgpt/internal/observe"
	"github.com/prawnikgpt/prawnikgpt/internal/pipeline"
	qspostgres "github.com/prawnikgpt/prawnikgpt/internal/querystore/postgres"
	"github.com/prawnikgpt/prawnikgpt/internal/ragcache"
	ratpostgres "github.com/prawnikgpt/prawnikgpt/internal/ratings/postgres"
	idxpostgres "github.com/prawnikgpt/prawnikgpt/pkg/index/postgres"
	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
	"github.com/prawnikgpt/prawnikgpt/pkg/llm/ollama"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "prawnikgpt: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "prawnikgpt: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	slog.Info("prawnikgpt starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"environment", cfg.Server.Environment,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "prawnikgpt",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Inference gateway ─────────────────────────────────────────────────────
	gatewayOpts := buildGatewayOptions(metrics)
	gateway, err := ollama.New(cfg.Ollama.Host, ollama.Config{
		Fast:      modelConfig(cfg.Ollama.Fast),
		Accurate:  modelConfig(cfg.Ollama.Accurate),
		Embedding: modelConfig(cfg.Ollama.Embedding),
	}, gatewayOpts...)
	if err != nil {
		slog.Error("failed to create inference gateway", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	idxStore, err := idxpostgres.NewStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer idxStore.Close()

	queryStore, err := qspostgres.NewStore(ctx, idxStore.Pool())
	if err != nil {
		slog.Error("failed to initialise query store", "err", err)
		return 1
	}
	ratingStore, err := ratpostgres.NewStore(ctx, idxStore.Pool())
	if err != nil {
		slog.Error("failed to initialise rating store", "err", err)
		return 1
	}

	// ── Context cache ─────────────────────────────────────────────────────────
	cache, redisCache := buildCache(ctx, cfg)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	collector := observe.NewCollector()
	orc := pipeline.New(
		pipeline.Config{
			FastModel:        cfg.Ollama.Fast.Name,
			AccurateModel:    cfg.Ollama.Accurate.Name,
			EmbeddingModel:   cfg.Ollama.Embedding.Name,
			TopK:             cfg.Pipeline.TopK,
			Threshold:        cfg.Pipeline.Threshold,
			MinResults:       cfg.Pipeline.MinResults,
			RelatedDepth:     cfg.Pipeline.RelatedDepth,
			MaxContextTokens: cfg.Pipeline.MaxContextTokens,
		},
		gateway, idxStore, queryStore, cache,
		pipeline.WithMetrics(metrics),
		pipeline.WithCollector(collector),
		pipeline.WithLogger(logger),
	)

	dispatcher := pipeline.NewDispatcher(orc,
		pipeline.WithTaskTimeout(cfg.Ollama.Accurate.Timeout()+time.Minute),
	)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	go collector.LogPeriodically(ctx, cfg.Pipeline.MetricsLogInterval())

	// ── Model warmup ──────────────────────────────────────────────────────────
	if cfg.Pipeline.WarmupOnStart {
		go gateway.WarmupAll(ctx, nil)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(buildCheckers(cfg, gateway, idxStore, redisCache)...)

	server := api.NewServer(
		api.Config{
			JWTSecret:        cfg.Auth.JWTSecret,
			PerUserLimit:     cfg.RateLimit.PerUser,
			PerIPLimit:       cfg.RateLimit.PerIP,
			HealthPerIPLimit: cfg.RateLimit.HealthPerIP,
			VerboseErrors:    cfg.Server.Environment != config.EnvProduction,
		},
		orc, dispatcher, queryStore, ratingStore, healthHandler,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("server ready, press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	dispatcher.Stop()

	slog.Info("goodbye")
	return 0
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

func modelConfig(m config.ModelConfig) ollama.ModelConfig {
	return ollama.ModelConfig{
		Name:        m.Name,
		Concurrency: int64(m.Concurrency),
		Timeout:     m.Timeout(),
	}
}

// buildGatewayOptions attaches the process memory sampler to the gateway when
// the platform supports it.
func buildGatewayOptions(metrics *observe.Metrics) []ollama.Option {
	sampler, err := observe.NewMemorySampler()
	if err != nil {
		slog.Warn("memory sampling disabled", "err", err)
		return nil
	}
	return []ollama.Option{
		ollama.WithMemorySampler(sampler.Percent, func(percent float64) {
			metrics.MemoryPercent.Record(context.Background(), percent)
		}),
	}
}

// buildCache selects Redis when an address is configured and the in-process
// fallback otherwise. The Redis handle is also returned for health checks.
func buildCache(ctx context.Context, cfg *config.Config) (ragcache.Cache, *ragcache.Redis) {
	if cfg.Redis.Addr == "" {
		slog.Info("using in-process context cache")
		return ragcache.NewMemory(cfg.Pipeline.CacheTTL()), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := ragcache.NewRedis(client, cfg.Pipeline.CacheTTL())

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		// Redis may come up later; the health endpoint keeps reporting it.
		slog.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "err", err)
	} else {
		slog.Info("redis context cache connected", "addr", cfg.Redis.Addr)
	}
	return cache, cache
}

// buildCheckers assembles the dependency probes for /api/health.
func buildCheckers(cfg *config.Config, gateway llm.Gateway, idxStore *idxpostgres.Store, redisCache *ragcache.Redis) []health.Checker {
	checkers := []health.Checker{
		ollamaChecker(cfg, gateway),
		health.PingChecker("postgres", idxStore.Ping),
	}
	if redisCache != nil {
		checkers = append(checkers, health.PingChecker("redis", redisCache.Ping))
	}
	return checkers
}

// ollamaChecker probes the inference server and verifies the configured
// models are pulled. A reachable server with missing models is degraded, not
// down.
func ollamaChecker(cfg *config.Config, gateway llm.Gateway) health.Checker {
	models := []string{
		cfg.Ollama.Fast.Name,
		cfg.Ollama.Accurate.Name,
		cfg.Ollama.Embedding.Name,
	}
	return health.Checker{
		Name: "ollama",
		Check: func(ctx context.Context) (health.Status, string) {
			if !gateway.HealthCheck(ctx, false) {
				return health.StatusDown, "inference server unreachable"
			}
			var missing []string
			for _, model := range models {
				ok, err := gateway.ValidateModel(ctx, model)
				if err != nil {
					return health.StatusDegraded, "model catalog unavailable"
				}
				if !ok {
					missing = append(missing, model)
				}
			}
			if len(missing) > 0 {
				return health.StatusDegraded, "models not pulled: " + strings.Join(missing, ", ")
			}
			return health.StatusOK, ""
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	cacheBackend := "in-process"
	if cfg.Redis.Addr != "" {
		cacheBackend = "redis @ " + cfg.Redis.Addr
	}

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║         PrawnikGPT   startup summary         ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	printRow("Fast model", fmt.Sprintf("%s (%ds)", cfg.Ollama.Fast.Name, cfg.Ollama.Fast.TimeoutSec))
	printRow("Accurate model", fmt.Sprintf("%s (%ds)", cfg.Ollama.Accurate.Name, cfg.Ollama.Accurate.TimeoutSec))
	printRow("Embedding model", cfg.Ollama.Embedding.Name)
	printRow("Ollama host", cfg.Ollama.Host)
	printRow("Context cache", cacheBackend)
	printRow("Search top-k", fmt.Sprintf("%d (threshold %.2f)", cfg.Pipeline.TopK, cfg.Pipeline.Threshold))
	printRow("Relation depth", fmt.Sprintf("%d", cfg.Pipeline.RelatedDepth))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚══════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 25 {
		value = string([]rune(value)[:24]) + "…"
	}
	fmt.Printf("║  %-15s : %-25s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(server config.ServerConfig) *slog.Logger {
	var lvl slog.Level
	switch server.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if server.Environment == config.EnvProduction {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
