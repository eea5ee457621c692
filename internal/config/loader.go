package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] when the corresponding field is unset.
const (
	DefaultListenAddr          = ":8080"
	DefaultOllamaHost          = "http://localhost:11434"
	DefaultFastModel           = "mistral:7b"
	DefaultAccurateModel       = "gpt-oss:120b"
	DefaultEmbeddingModel      = "nomic-embed-text"
	DefaultFastConcurrency     = 3
	DefaultAccurateConcurrency = 1
	DefaultEmbedConcurrency    = 3
	DefaultFastTimeoutSec      = 15
	DefaultAccurateTimeoutSec  = 240
	DefaultEmbedTimeoutSec     = 30
	DefaultTopK                = 10
	DefaultThreshold           = 0.5
	DefaultMinResults          = 3
	DefaultRelatedDepth        = 2
	DefaultCacheTTLSec         = 300
	DefaultMaxContextTokens    = 4000
	DefaultMetricsIntervalSec  = 300
	DefaultPerUserLimit        = 10
	DefaultPerIPLimit          = 30
	DefaultHealthPerIPLimit    = 60
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their default values. Explicit
// values, including explicit zeroes where zero is valid, are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvDevelopment
	}

	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = DefaultOllamaHost
	}
	defaultModel(&cfg.Ollama.Fast, DefaultFastModel, DefaultFastConcurrency, DefaultFastTimeoutSec)
	defaultModel(&cfg.Ollama.Accurate, DefaultAccurateModel, DefaultAccurateConcurrency, DefaultAccurateTimeoutSec)
	defaultModel(&cfg.Ollama.Embedding, DefaultEmbeddingModel, DefaultEmbedConcurrency, DefaultEmbedTimeoutSec)

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = DefaultTopK
	}
	if cfg.Pipeline.Threshold == 0 {
		cfg.Pipeline.Threshold = DefaultThreshold
	}
	if cfg.Pipeline.MinResults == 0 {
		cfg.Pipeline.MinResults = DefaultMinResults
	}
	if cfg.Pipeline.RelatedDepth == 0 {
		cfg.Pipeline.RelatedDepth = DefaultRelatedDepth
	}
	if cfg.Pipeline.CacheTTLSec == 0 {
		cfg.Pipeline.CacheTTLSec = DefaultCacheTTLSec
	}
	if cfg.Pipeline.MaxContextTokens == 0 {
		cfg.Pipeline.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Pipeline.MetricsLogIntervalSec == 0 {
		cfg.Pipeline.MetricsLogIntervalSec = DefaultMetricsIntervalSec
	}

	if cfg.RateLimit.PerUser == 0 {
		cfg.RateLimit.PerUser = DefaultPerUserLimit
	}
	if cfg.RateLimit.PerIP == 0 {
		cfg.RateLimit.PerIP = DefaultPerIPLimit
	}
	if cfg.RateLimit.HealthPerIP == 0 {
		cfg.RateLimit.HealthPerIP = DefaultHealthPerIPLimit
	}
}

func defaultModel(m *ModelConfig, name string, concurrency, timeoutSec int) {
	if m.Name == "" {
		m.Name = name
	}
	if m.Concurrency == 0 {
		m.Concurrency = concurrency
	}
	if m.TimeoutSec == 0 {
		m.TimeoutSec = timeoutSec
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("server.environment %q is invalid; valid values: development, production", cfg.Server.Environment))
	}

	for _, m := range []struct {
		key string
		cfg ModelConfig
	}{
		{"ollama.fast", cfg.Ollama.Fast},
		{"ollama.accurate", cfg.Ollama.Accurate},
		{"ollama.embedding", cfg.Ollama.Embedding},
	} {
		if m.cfg.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("%s.concurrency %d must be at least 1", m.key, m.cfg.Concurrency))
		}
		if m.cfg.TimeoutSec < 1 {
			errs = append(errs, fmt.Errorf("%s.timeout_sec %d must be at least 1", m.key, m.cfg.TimeoutSec))
		}
	}

	if cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; falling back to the in-process context cache")
	}

	if cfg.Pipeline.TopK < 1 {
		errs = append(errs, fmt.Errorf("pipeline.top_k %d must be at least 1", cfg.Pipeline.TopK))
	}
	if cfg.Pipeline.Threshold <= 0 || cfg.Pipeline.Threshold > 2 {
		errs = append(errs, fmt.Errorf("pipeline.threshold %.2f is out of range (0, 2]", cfg.Pipeline.Threshold))
	}
	if cfg.Pipeline.MinResults < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_results %d must be at least 1", cfg.Pipeline.MinResults))
	}
	if cfg.Pipeline.RelatedDepth < 1 || cfg.Pipeline.RelatedDepth > 2 {
		errs = append(errs, fmt.Errorf("pipeline.related_depth %d is out of range [1, 2]", cfg.Pipeline.RelatedDepth))
	}
	if cfg.Pipeline.MaxContextTokens < 100 {
		errs = append(errs, fmt.Errorf("pipeline.max_context_tokens %d must be at least 100", cfg.Pipeline.MaxContextTokens))
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if len(cfg.Auth.JWTSecret) < 32 && cfg.Server.Environment == EnvProduction {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is %d bytes; production requires at least 32", len(cfg.Auth.JWTSecret)))
	}

	for _, l := range []struct {
		key string
		val int
	}{
		{"ratelimit.per_user", cfg.RateLimit.PerUser},
		{"ratelimit.per_ip", cfg.RateLimit.PerIP},
		{"ratelimit.health_per_ip", cfg.RateLimit.HealthPerIP},
	} {
		if l.val < 1 {
			errs = append(errs, fmt.Errorf("%s %d must be at least 1", l.key, l.val))
		}
	}

	if cfg.Ollama.Fast.TimeoutSec >= cfg.Ollama.Accurate.TimeoutSec {
		slog.Warn("ollama.fast.timeout_sec is not below ollama.accurate.timeout_sec; the fast tier is expected to answer quicker",
			"fast", cfg.Ollama.Fast.TimeoutSec,
			"accurate", cfg.Ollama.Accurate.TimeoutSec,
		)
	}

	return errors.Join(errs...)
}
