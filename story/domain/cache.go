package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultCacheTTL é o TTL padrão das respostas geradas.
const DefaultCacheTTL = 1800 * time.Second

// CacheEntry pertence exclusivamente ao CacheStore.
type CacheEntry struct {
	Fingerprint Fingerprint
	Payload     json.RawMessage
	CreatedAt   time.Time
	TTL         time.Duration
}

// Fresh informa se a entrada ainda pode ser servida em `now`.
// Passado o TTL, a entrada equivale a ausente (sem servir conteúdo velho).
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.CreatedAt.Add(e.TTL))
}

// CacheStore mapeia fingerprint -> payload com TTL.
//
// Lookup e Store devem ser seguros para uso concorrente. Um Lookup concorrente
// com um Store da mesma chave pode ver o valor antigo ou o novo, nunca um parcial.
type CacheStore interface {
	Lookup(ctx context.Context, fp Fingerprint) (json.RawMessage, bool)
	// Store sobrescreve incondicionalmente. ttl <= 0 usa o padrão do store.
	Store(ctx context.Context, fp Fingerprint, payload json.RawMessage, ttl time.Duration)
}
