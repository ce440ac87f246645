package infra

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"story-gateway/internal/janitor"
	"story-gateway/story/domain"

	"github.com/cespare/xxhash/v2"
)

// CacheStore guarda respostas por fingerprint, divididas em shards para que
// chaves diferentes não disputem o mesmo lock.
//
// Não há limite de tamanho nem LRU: a cardinalidade (tópico x tier) é baixa.
type CacheStore struct {
	shards     []*cacheShard
	defaultTTL time.Duration
	sweepEvery time.Duration
	now        Clock
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[domain.Fingerprint]domain.CacheEntry
}

type CacheOption func(*CacheStore)

func WithDefaultTTL(d time.Duration) CacheOption {
	return func(c *CacheStore) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

func WithShards(n int) CacheOption {
	return func(c *CacheStore) {
		if n > 0 {
			c.shards = newShards(n)
		}
	}
}

func WithSweepEvery(d time.Duration) CacheOption {
	return func(c *CacheStore) { c.sweepEvery = d }
}

func WithCacheClock(now Clock) CacheOption {
	return func(c *CacheStore) { c.now = now }
}

func NewCacheStore(opts ...CacheOption) *CacheStore {
	c := &CacheStore{
		shards:     newShards(32),
		defaultTTL: domain.DefaultCacheTTL,
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newShards(n int) []*cacheShard {
	out := make([]*cacheShard, n)
	for i := range out {
		out[i] = &cacheShard{entries: make(map[domain.Fingerprint]domain.CacheEntry)}
	}
	return out
}

func (c *CacheStore) DefaultTTL() time.Duration { return c.defaultTTL }

func (c *CacheStore) shard(fp domain.Fingerprint) *cacheShard {
	return c.shards[xxhash.Sum64String(string(fp))%uint64(len(c.shards))]
}

// Lookup implementa domain.CacheStore.
// Entrada vencida é removida aqui mesmo (expiração preguiçosa).
func (c *CacheStore) Lookup(_ context.Context, fp domain.Fingerprint) (json.RawMessage, bool) {
	sh := c.shard(fp)
	now := c.now()

	sh.mu.RLock()
	ent, ok := sh.entries[fp]
	sh.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if ent.Fresh(now) {
		return ent.Payload, true
	}

	sh.mu.Lock()
	// outro Store pode ter sobrescrito entre os locks
	if cur, ok := sh.entries[fp]; ok && !cur.Fresh(now) {
		delete(sh.entries, fp)
	}
	sh.mu.Unlock()
	return nil, false
}

// Store implementa domain.CacheStore.
func (c *CacheStore) Store(_ context.Context, fp domain.Fingerprint, payload json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	ent := domain.CacheEntry{
		Fingerprint: fp,
		Payload:     append(json.RawMessage(nil), payload...),
		CreatedAt:   c.now(),
		TTL:         ttl,
	}

	sh := c.shard(fp)
	sh.mu.Lock()
	sh.entries[fp] = ent
	sh.mu.Unlock()
}

// Len retorna quantas entradas ainda estão válidas.
func (c *CacheStore) Len() int {
	now := c.now()
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, ent := range sh.entries {
			if ent.Fresh(now) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

// Sweep remove todas as entradas vencidas.
func (c *CacheStore) Sweep() {
	now := c.now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, ent := range sh.entries {
			if !ent.Fresh(now) {
				delete(sh.entries, k)
			}
		}
		sh.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que varre entradas vencidas periodicamente.
// Não é necessária para a corretude, apenas para higiene de memória.
// Pare cancelando o contexto.
func (c *CacheStore) StartJanitor(ctx DoneContext) {
	janitor.Start(ctx, c.sweepEvery, c.Sweep)
}

var _ domain.CacheStore = (*CacheStore)(nil)
