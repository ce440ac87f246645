package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"story-gateway/story/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStatsTimeout é o tempo máximo gasto gravando uma estatística.
const DefaultStatsTimeout = 250 * time.Millisecond

// Service orquestra Governor -> Cache -> Generator.
//
// É criado uma vez no startup e compartilhado por todas as requisições.
type Service struct {
	Governor   domain.Governor
	Cache      domain.CacheStore
	Generator  domain.Generator
	Stats      domain.StatsStore
	Metrics    domain.Metrics
	Logger     *zap.SugaredLogger
	DefaultKey string
	CacheTTL   time.Duration

	// StatsTimeout limita a gravação de estatísticas no caminho da requisição.
	StatsTimeout time.Duration

	// PerCallerScope usa req.CallerKey como escopo do rate limit.
	PerCallerScope bool

	group singleflight.Group
}

// Origin descreve a rota que originou a chamada (apenas para estatísticas).
type Origin struct {
	Method string
	Path   string
}

type originKey struct{}

// WithOrigin anexa método/rota ao contexto para o StatsStore.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

func originFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}

func (s *Service) metrics() domain.Metrics {
	if s.Metrics == nil {
		return domain.NopMetrics{}
	}
	return s.Metrics
}

func (s *Service) logger() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}

func (s *Service) scope(req domain.GenerationRequest) string {
	if s.PerCallerScope {
		if k := strings.TrimSpace(req.CallerKey); k != "" {
			return k
		}
	}
	return domain.GlobalScope
}

// Generate executa o fluxo:
// Received -> RateChecked -> CacheChecked -> [upstream] -> Completed | Failed.
func (s *Service) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return domain.GenerationResult{}, domain.ErrValidation
	}

	apiKey, keySource := domain.ResolveKey(req.APIKey, s.DefaultKey)

	if s.Governor != nil {
		scope := s.scope(req)
		dec := s.Governor.Admit(ctx, scope)
		s.metrics().RecordAdmission(ctx, dec.Allowed)
		s.recordStats(ctx, scope, dec.Allowed)
		if !dec.Allowed {
			return domain.GenerationResult{}, &domain.RateLimitError{
				Scope:      scope,
				Limit:      dec.Limit,
				RetryAfter: dec.RetryAfter,
			}
		}
	}

	fp := domain.NewFingerprint(req.Topic, req.Tier)
	result := domain.GenerationResult{KeySource: keySource, Tier: req.Tier}

	if s.Cache != nil {
		payload, ok := s.Cache.Lookup(ctx, fp)
		s.metrics().RecordCacheLookup(ctx, ok)
		if ok {
			result.Payload = payload
			result.ServedFromCache = true
			return result, nil
		}
	}

	payload, err := s.fetch(ctx, fp, req, apiKey)
	if err != nil {
		var ue *domain.UpstreamError
		if !errors.As(err, &ue) {
			ue = &domain.UpstreamError{Message: err.Error(), Err: err}
		}
		// cópia: o erro pode ser compartilhado entre chamadas do singleflight
		out := *ue
		out.KeySource = keySource
		s.logger().Warnw("story generation failed",
			"fingerprint", string(fp),
			"key_source", string(keySource),
			"status", out.StatusCode,
			"error", out.Error(),
		)
		return domain.GenerationResult{}, &out
	}

	result.Payload = payload
	return result, nil
}

// fetch chama o upstream uma vez por (fingerprint, chave), mesmo com misses
// concorrentes, e popula o cache apenas em sucesso.
func (s *Service) fetch(ctx context.Context, fp domain.Fingerprint, req domain.GenerationRequest, apiKey string) ([]byte, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &domain.UpstreamError{Message: "no API key configured"}
	}
	if s.Generator == nil {
		return nil, &domain.UpstreamError{Message: "no upstream generator configured"}
	}

	// o cliente que desconecta não derruba quem espera a mesma chamada;
	// o timeout do cliente upstream continua valendo.
	callCtx := context.WithoutCancel(ctx)

	v, err, _ := s.group.Do(string(fp)+"\x00"+apiKey, func() (any, error) {
		start := time.Now()
		payload, err := s.Generator.Generate(callCtx, req.Topic, req.Tier, apiKey)
		s.metrics().RecordUpstream(callCtx, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if s.Cache != nil {
			s.Cache.Store(callCtx, fp, payload, s.CacheTTL)
		}
		s.logger().Debugw("story generated",
			"fingerprint", string(fp),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return []byte(payload), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Service) recordStats(ctx context.Context, scope string, allowed bool) {
	if s.Stats == nil {
		return
	}
	timeout := s.StatsTimeout
	if timeout <= 0 {
		timeout = DefaultStatsTimeout
	}
	o := originFrom(ctx)

	// estatística é best-effort: um backend lento não segura a resposta
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	err := s.Stats.Record(sctx, domain.StatsEvent{
		Scope:   scope,
		Allowed: allowed,
		Method:  o.Method,
		Path:    o.Path,
		At:      time.Now(),
	})
	if err != nil {
		s.logger().Warnw("rate stats record failed", "error", err)
	}
}
