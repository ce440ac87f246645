package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão do governor.
//
// Cuidado com cardinalidade ao persistir Scope quando o escopo é por chamador.
type StatsEvent struct {
	Scope   string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore persiste estatísticas de admissão (memória, Redis, SQLite...).
// Quem chama trata erro como best-effort: nunca derruba a requisição.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Metrics recebe os eventos do orquestrador para telemetria.
type Metrics interface {
	RecordAdmission(ctx context.Context, allowed bool)
	RecordCacheLookup(ctx context.Context, hit bool)
	RecordUpstream(ctx context.Context, d time.Duration, err error)
}

// NopMetrics descarta tudo.
type NopMetrics struct{}

func (NopMetrics) RecordAdmission(context.Context, bool)                {}
func (NopMetrics) RecordCacheLookup(context.Context, bool)              {}
func (NopMetrics) RecordUpstream(context.Context, time.Duration, error) {}
