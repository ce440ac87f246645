package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"story-gateway/story/domain"
	"story-gateway/story/infra"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	Gemini      geminiConfig      `yaml:"gemini"`
	Cache       cacheConfig       `yaml:"cache"`
	Rate        rateConfig        `yaml:"rate"`
	Stats       statsConfig       `yaml:"stats"`
	Concurrency concurrencyConfig `yaml:"concurrency"`
	Burst       burstConfig       `yaml:"burst"`
	Telemetry   telemetryConfig   `yaml:"telemetry"`
}

type geminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type cacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Shards     int           `yaml:"shards"`
	SweepEvery time.Duration `yaml:"sweep_every"`
}

type rateConfig struct {
	Limit     int           `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
	Scope     string        `yaml:"scope"`
	KeyHeader string        `yaml:"key_header"`
	TrustXFF  bool          `yaml:"trust_xff"`
}

type statsConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	Bucket        string        `yaml:"bucket"`
	TrackKeys     bool          `yaml:"track_keys"`
	SQLitePath    string        `yaml:"sqlite_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

type concurrencyConfig struct {
	Max     int           `yaml:"max"`
	Timeout time.Duration `yaml:"timeout"`
}

type burstConfig struct {
	RPS  float64 `yaml:"rps"`
	Size int     `yaml:"size"`
}

type telemetryConfig struct {
	Metrics     string  `yaml:"metrics"`
	Tracing     string  `yaml:"tracing"`
	TraceSample float64 `yaml:"trace_sample"`
}

func defaultConfig() config {
	return config{
		Port:        5000,
		Environment: "development",
		LogLevel:    "info",
		Gemini: geminiConfig{
			Model:   infra.DefaultGeminiModel,
			BaseURL: infra.DefaultGeminiBaseURL,
			Timeout: infra.DefaultUpstreamTimeout,
		},
		Cache: cacheConfig{
			TTL:        domain.DefaultCacheTTL,
			Shards:     32,
			SweepEvery: 5 * time.Minute,
		},
		Rate: rateConfig{
			Limit:  domain.DefaultRateLimit,
			Window: domain.DefaultRateWindow,
			Scope:  "global",
		},
		Stats: statsConfig{
			Backend:    "none",
			Prefix:     "story:stats",
			TTL:        24 * time.Hour,
			Bucket:     "minute",
			SQLitePath: "story-stats.db",
			Timeout:    250 * time.Millisecond,
		},
		Concurrency: concurrencyConfig{Max: 100},
		Burst:       burstConfig{Size: 5},
		Telemetry: telemetryConfig{
			Metrics:     "prometheus",
			Tracing:     "none",
			TraceSample: 1.0,
		},
	}
}

// loadConfig aplica, em ordem: defaults, arquivo YAML (opcional) e variáveis de ambiente.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = os.Getenv("GATEWAY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *config) {
	cfg.Port = getenvIntDefault("PORT", cfg.Port)
	cfg.Environment = getenvDefault("ENVIRONMENT", getenvDefault("NODE_ENV", cfg.Environment))
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.Gemini.APIKey = getenvDefault("GEMINI_API_KEY", getenvDefault("GOOGLE_API_KEY", cfg.Gemini.APIKey))
	cfg.Gemini.Model = getenvDefault("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.BaseURL = getenvDefault("GEMINI_BASE_URL", cfg.Gemini.BaseURL)
	cfg.Gemini.Timeout = getenvDurationDefault("UPSTREAM_TIMEOUT", cfg.Gemini.Timeout)

	cfg.Cache.TTL = getenvDurationDefault("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Shards = getenvIntDefault("CACHE_SHARDS", cfg.Cache.Shards)
	cfg.Cache.SweepEvery = getenvDurationDefault("CACHE_SWEEP_EVERY", cfg.Cache.SweepEvery)

	cfg.Rate.Limit = getenvIntDefault("RATE_LIMIT", cfg.Rate.Limit)
	cfg.Rate.Window = getenvDurationDefault("RATE_WINDOW", cfg.Rate.Window)
	cfg.Rate.Scope = getenvDefault("RATE_SCOPE", cfg.Rate.Scope)
	cfg.Rate.KeyHeader = getenvDefault("RATE_KEY_HEADER", cfg.Rate.KeyHeader)
	cfg.Rate.TrustXFF = getenvBoolDefault("TRUST_XFF", cfg.Rate.TrustXFF)

	cfg.Stats.Backend = getenvDefault("RATE_STATS_BACKEND", cfg.Stats.Backend)
	cfg.Stats.RedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.Stats.RedisAddr)
	cfg.Stats.RedisPassword = getenvDefault("RATE_STATS_REDIS_PASSWORD", cfg.Stats.RedisPassword)
	cfg.Stats.RedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", cfg.Stats.RedisDB)
	cfg.Stats.Prefix = getenvDefault("RATE_STATS_PREFIX", cfg.Stats.Prefix)
	cfg.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", cfg.Stats.TTL)
	cfg.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", cfg.Stats.Bucket)
	cfg.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", cfg.Stats.TrackKeys)
	cfg.Stats.SQLitePath = getenvDefault("RATE_STATS_SQLITE_PATH", cfg.Stats.SQLitePath)
	cfg.Stats.Timeout = getenvDurationDefault("RATE_STATS_TIMEOUT", cfg.Stats.Timeout)

	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.Timeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", cfg.Concurrency.Timeout)
	cfg.Burst.RPS = getenvFloatDefault("BURST_RPS", cfg.Burst.RPS)
	cfg.Burst.Size = getenvIntDefault("BURST_SIZE", cfg.Burst.Size)

	cfg.Telemetry.Metrics = getenvDefault("METRICS_EXPORTER", cfg.Telemetry.Metrics)
	cfg.Telemetry.Tracing = getenvDefault("TRACING_EXPORTER", cfg.Telemetry.Tracing)
	cfg.Telemetry.TraceSample = getenvFloatDefault("TRACING_SAMPLE", cfg.Telemetry.TraceSample)
}

func (c config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	}
	if c.Rate.Limit <= 0 {
		return errors.New("RATE_LIMIT must be > 0")
	}
	if c.Rate.Window <= 0 {
		return errors.New("RATE_WINDOW must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("CACHE_TTL must be > 0")
	}
	if c.Gemini.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	}
	switch c.Rate.Scope {
	case "global", "caller":
	default:
		return fmt.Errorf("RATE_SCOPE must be global or caller, got %q", c.Rate.Scope)
	}
	switch c.Stats.Backend {
	case "none", "memory", "sqlite":
	case "redis":
		if strings.TrimSpace(c.Stats.RedisAddr) == "" {
			return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown RATE_STATS_BACKEND %q", c.Stats.Backend)
	}
	if c.Concurrency.Max < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.Burst.RPS < 0 {
		return errors.New("BURST_RPS must be >= 0")
	}
	if c.Burst.RPS > 0 && c.Burst.Size <= 0 {
		return errors.New("BURST_SIZE must be > 0 when BURST_RPS > 0")
	}
	switch c.Telemetry.Metrics {
	case "prometheus", "stdout", "none":
	default:
		return fmt.Errorf("unknown METRICS_EXPORTER %q", c.Telemetry.Metrics)
	}
	switch c.Telemetry.Tracing {
	case "stdout", "otlp", "none":
	default:
		return fmt.Errorf("unknown TRACING_EXPORTER %q", c.Telemetry.Tracing)
	}
	return nil
}

// masked devolve uma cópia segura para exibir: segredos viram "****".
func (c config) masked() config {
	if c.Gemini.APIKey != "" {
		c.Gemini.APIKey = "****"
	}
	if c.Stats.RedisPassword != "" {
		c.Stats.RedisPassword = "****"
	}
	return c
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
