package story

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"story-gateway/story/application"
	"story-gateway/story/domain"

	"go.uber.org/zap"
)

// Generator é o que o handler precisa do orquestrador.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
}

type Options struct {
	Service     Generator
	Environment string
	// CallerKey extrai a identidade do cliente para rate limit por chamador.
	CallerKey func(r *http.Request) string
	// CacheSize informa o número de entradas vivas no /health.
	CacheSize func() int
	// Admissions, se não nil, soma as decisões do governor para o /health.
	Admissions func(ctx context.Context) (allowed, denied int64, err error)
	// Metrics, se não nil, é servido em GET /metrics.
	Metrics http.Handler
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

type Handler struct {
	opts    Options
	mux     *http.ServeMux
	started time.Time
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Environment == "" {
		opts.Environment = "development"
	}

	h := &Handler{opts: opts, mux: http.NewServeMux(), started: opts.Now()}
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /story", h.handleStory)
	if opts.Metrics != nil {
		h.mux.Handle("GET /metrics", opts.Metrics)
	}
	h.mux.HandleFunc("/", h.handleNotFound)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type healthBody struct {
	Status      string      `json:"status"`
	Timestamp   string      `json:"timestamp"`
	Environment string      `json:"environment"`
	Uptime      string      `json:"uptime"`
	Cache       *cacheStats `json:"cache,omitempty"`
	Admissions  *admissions `json:"admissions,omitempty"`
}

type cacheStats struct {
	Entries int `json:"entries"`
}

type admissions struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// healthStatsTimeout evita que um backend de estatísticas lento derrube o /health.
const healthStatsTimeout = 500 * time.Millisecond

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := h.opts.Now()
	body := healthBody{
		Status:      "OK",
		Timestamp:   now.UTC().Format(time.RFC3339),
		Environment: h.opts.Environment,
		Uptime:      now.Sub(h.started).Round(time.Second).String(),
	}
	if h.opts.CacheSize != nil {
		body.Cache = &cacheStats{Entries: h.opts.CacheSize()}
	}
	if h.opts.Admissions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthStatsTimeout)
		allowed, denied, err := h.opts.Admissions(ctx)
		cancel()
		if err != nil {
			h.opts.Logger.Warnw("admission stats unavailable", "error", err, "request_id", RequestID(r.Context()))
		} else {
			body.Admissions = &admissions{Allowed: allowed, Denied: denied}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleStory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := domain.GenerationRequest{
		Topic:  q.Get("word"),
		Tier:   domain.ParseTier(q.Get("wordCount")),
		APIKey: q.Get("apiKey"),
	}
	if h.opts.CallerKey != nil {
		req.CallerKey = h.opts.CallerKey(r)
	}

	ctx := application.WithOrigin(r.Context(), application.Origin{Method: r.Method, Path: r.URL.Path})
	res, err := h.opts.Service.Generate(ctx, req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	body, err := mergePayload(res.Payload, map[string]any{
		"usedApiKey": string(res.KeySource),
		"wordCount":  res.Tier.WordCount(),
		"cached":     res.ServedFromCache,
	})
	if err != nil {
		h.opts.Logger.Errorw("invalid upstream payload", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:      msgGenerateFailed,
			Details:    "invalid upstream payload",
			UsedAPIKey: string(res.KeySource),
		})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// writeFailure traduz o erro via statusFor e escreve o corpo JSON.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, msgWordRequired)
	case http.StatusNotFound:
		writeError(w, status, msgNotFound)
	case http.StatusTooManyRequests:
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			if secs := int(rl.RetryAfter.Round(time.Second).Seconds()); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			if rl.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
		}
		writeError(w, status, msgTooManyRequest)
	default:
		body := errorBody{Error: msgGenerateFailed, Details: err.Error()}
		var ue *domain.UpstreamError
		if errors.As(err, &ue) {
			body.UsedAPIKey = string(ue.KeySource)
		}
		h.opts.Logger.Errorw("story request failed", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, status, body)
	}
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeFailure(w, r, domain.ErrNotFound)
}

// statusFor é o único ponto de tradução erro -> status HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
