package infra

import (
	"context"
	"sync"
	"time"

	"story-gateway/internal/janitor"
	"story-gateway/story/domain"
)

// WindowGovernor implementa rate limit de janela fixa por escopo.
//
// Toda chamada é contada: admitidas em Count (até Limit) e recusadas em
// Rejected. Assim Count nunca passa de Limit.
type WindowGovernor struct {
	mu      sync.Mutex
	windows map[string]*domain.RateWindow

	limit        int
	window       time.Duration
	cleanupEvery time.Duration
	now          Clock
}

type WindowOption func(*WindowGovernor)

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(g *WindowGovernor) { g.cleanupEvery = d }
}

func WithWindowClock(now Clock) WindowOption {
	return func(g *WindowGovernor) { g.now = now }
}

func NewWindowGovernor(limit int, window time.Duration, opts ...WindowOption) *WindowGovernor {
	if limit <= 0 {
		limit = domain.DefaultRateLimit
	}
	if window <= 0 {
		window = domain.DefaultRateWindow
	}
	g := &WindowGovernor{
		windows:      make(map[string]*domain.RateWindow),
		limit:        limit,
		window:       window,
		cleanupEvery: 10 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit implementa domain.Governor.
func (g *WindowGovernor) Admit(_ context.Context, scope string) domain.Decision {
	if scope == "" {
		scope = domain.GlobalScope
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[scope]
	if !ok || !now.Before(w.Start.Add(g.window)) {
		w = &domain.RateWindow{Scope: scope, Start: now, Limit: g.limit}
		g.windows[scope] = w
	}

	resetAt := w.Start.Add(g.window)
	if w.Count < w.Limit {
		w.Count++
		return domain.Decision{
			Allowed:   true,
			Limit:     w.Limit,
			Remaining: w.Limit - w.Count,
			ResetAt:   resetAt,
		}
	}

	w.Rejected++
	return domain.Decision{
		Allowed:    false,
		Limit:      w.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
	}
}

// Snapshot devolve uma cópia da janela do escopo, se existir.
func (g *WindowGovernor) Snapshot(scope string) (domain.RateWindow, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[scope]
	if !ok {
		return domain.RateWindow{}, false
	}
	return *w, true
}

// Cleanup remove janelas que já expiraram.
func (g *WindowGovernor) Cleanup() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, w := range g.windows {
		if !now.Before(w.Start.Add(g.window)) {
			delete(g.windows, k)
		}
	}
}

// StartJanitor limpa escopos inativos periodicamente. Pare cancelando o contexto.
func (g *WindowGovernor) StartJanitor(ctx DoneContext) {
	janitor.Start(ctx, g.cleanupEvery, g.Cleanup)
}

var _ domain.Governor = (*WindowGovernor)(nil)
