package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"story-gateway/middleware/ratelimit"
	"story-gateway/story"
	"story-gateway/story/application"
	"story-gateway/story/domain"
	"story-gateway/story/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// statsBackend agrupa o store escolhido, como fechá-lo e como ler os totais.
// Todos os campos são nil com RATE_STATS_BACKEND=none.
type statsBackend struct {
	store  domain.StatsStore
	closer io.Closer
	totals func(ctx context.Context) (allowed, denied int64, err error)
}

func (b statsBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

func openStats(ctx context.Context, cfg statsConfig, logger *zap.SugaredLogger) (statsBackend, error) {
	switch cfg.Backend {
	case "memory":
		store := infra.NewMemoryStatsStore(infra.WithTrackScopes(cfg.TrackKeys))
		return statsBackend{
			store: store,
			totals: func(context.Context) (int64, int64, error) {
				c := store.Total()
				return c.Allowed, c.Denied, nil
			},
		}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return statsBackend{}, fmt.Errorf("redis stats ping: %w", err)
		}
		store := infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Prefix),
			infra.WithStatsTTL(cfg.TTL),
			infra.WithStatsBucket(cfg.Bucket),
			infra.WithStatsTrackScopes(cfg.TrackKeys),
		)
		return statsBackend{
			store:  store,
			closer: rdb,
			totals: func(ctx context.Context) (int64, int64, error) {
				c, err := store.Totals(ctx)
				return c.Allowed, c.Denied, err
			},
		}, nil

	case "sqlite":
		store, err := infra.NewSQLiteStatsStore(cfg.SQLitePath)
		if err != nil {
			return statsBackend{}, fmt.Errorf("open sqlite stats: %w", err)
		}
		go pruneLoop(ctx, store, cfg.TTL, logger)
		return statsBackend{
			store:  store,
			closer: store,
			totals: func(ctx context.Context) (int64, int64, error) {
				// eventos além do TTL já foram podados
				c, err := store.Totals(ctx, time.Time{})
				return c.Allowed, c.Denied, err
			},
		}, nil

	default:
		return statsBackend{}, nil
	}
}

// pruneLoop remove eventos mais antigos que ttl, uma vez por hora.
func pruneLoop(ctx context.Context, store *infra.SQLiteStatsStore, ttl time.Duration, logger *zap.SugaredLogger) {
	if ttl <= 0 {
		return
	}
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := store.Prune(ctx, now.Add(-ttl))
			if err != nil {
				logger.Warnw("stats prune failed", "error", err)
				continue
			}
			logger.Debugw("stats pruned", "rows", n)
		}
	}
}

// buildHandler monta Service, handler HTTP e a cadeia de middlewares.
func buildHandler(ctx context.Context, cfg config, logger *zap.SugaredLogger, tel *telemetry, stats statsBackend) (http.Handler, error) {
	governor := infra.NewWindowGovernor(cfg.Rate.Limit, cfg.Rate.Window)
	governor.StartJanitor(ctx)

	cache := infra.NewCacheStore(
		infra.WithDefaultTTL(cfg.Cache.TTL),
		infra.WithShards(cfg.Cache.Shards),
		infra.WithSweepEvery(cfg.Cache.SweepEvery),
	)
	cache.StartJanitor(ctx)

	gemini := infra.NewGeminiClient(
		infra.WithGeminiBaseURL(cfg.Gemini.BaseURL),
		infra.WithGeminiModel(cfg.Gemini.Model),
		infra.WithUpstreamTimeout(cfg.Gemini.Timeout),
	)

	metrics, err := infra.NewOtelMetrics(tel.meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	svc := &application.Service{
		Governor:       governor,
		Cache:          cache,
		Generator:      gemini,
		Stats:          stats.store,
		StatsTimeout:   cfg.Stats.Timeout,
		Metrics:        metrics,
		Logger:         logger.Named("service"),
		DefaultKey:     cfg.Gemini.APIKey,
		CacheTTL:       cfg.Cache.TTL,
		PerCallerScope: cfg.Rate.Scope == "caller",
	}

	keyFn := ratelimit.DefaultKeyFunc(cfg.Rate.KeyHeader, cfg.Rate.TrustXFF)
	opts := story.Options{
		Service:     svc,
		Environment: cfg.Environment,
		CacheSize:   cache.Len,
		Admissions:  stats.totals,
		Metrics:     tel.metricsHandler,
		Logger:      logger.Named("http"),
	}
	if svc.PerCallerScope {
		opts.CallerKey = keyFn
	}

	var h http.Handler = story.NewHandler(opts)
	if cfg.Burst.RPS > 0 {
		burst := ratelimit.NewBucketStore(cfg.Burst.RPS, cfg.Burst.Size)
		burst.StartJanitor(ctx)
		h = ratelimit.Middleware(ratelimit.Options{
			Store:    burst,
			KeyFn:    keyFn,
			OnReject: story.RejectJSON,
			Observe: func(r *http.Request, key string, allowed bool) {
				if !allowed {
					logger.Debugw("burst rejected", "path", r.URL.Path, "request_id", story.RequestID(r.Context()))
				}
			},
		})(h)
	}
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.Timeout,
		OnReject:       story.RejectJSON,
	})(h)
	h = story.RequestLogger(logger.Named("access"))(h)
	return h, nil
}

func serve(ctx context.Context, cfg config, logger *zap.SugaredLogger) error {
	tel, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.shutdown(shutdownCtx); err != nil {
			logger.Warnw("telemetry shutdown", "error", err)
		}
	}()

	stats, err := openStats(ctx, cfg.Stats, logger.Named("stats"))
	if err != nil {
		return err
	}
	defer func() { _ = stats.Close() }()

	h, err := buildHandler(ctx, cfg, logger, tel, stats)
	if err != nil {
		return err
	}

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// precisa cobrir a chamada upstream inteira
		WriteTimeout: cfg.Gemini.Timeout + 15*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if cfg.Gemini.APIKey == "" {
		logger.Warnw("no default API key configured; requests without apiKey will fail")
	}
	logger.Infow("story gateway listening",
		"addr", addr,
		"environment", cfg.Environment,
		"model", cfg.Gemini.Model,
		"rate_limit", cfg.Rate.Limit,
		"rate_window", cfg.Rate.Window.String(),
		"rate_scope", cfg.Rate.Scope,
		"cache_ttl", cfg.Cache.TTL.String(),
		"stats_backend", cfg.Stats.Backend,
		"concurrency_max", cfg.Concurrency.Max,
		"burst_rps", cfg.Burst.RPS,
		"metrics", cfg.Telemetry.Metrics,
		"tracing", cfg.Telemetry.Tracing,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Infow("story gateway stopped")
	return nil
}
