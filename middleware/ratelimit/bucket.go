package ratelimit

import (
	"sync"
	"time"

	"story-gateway/internal/janitor"

	"golang.org/x/time/rate"
)

// BurstDecision é o resultado de uma tentativa no bucket de um cliente.
type BurstDecision struct {
	Allowed bool
	// RetryAfter é o tempo até o próximo token; zero quando permitido.
	RetryAfter time.Duration
}

// BucketStore guarda um token bucket por cliente. Clientes sem tráfego por
// mais de idleTTL são descartados pelo janitor e recomeçam com o bucket cheio.
type BucketStore struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	limit        rate.Limit
	size         int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          janitor.Clock
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type BucketOption func(*BucketStore)

func WithIdleTTL(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.cleanupEvery = d }
}

func WithBucketClock(now janitor.Clock) BucketOption {
	return func(s *BucketStore) { s.now = now }
}

func NewBucketStore(rps float64, size int, opts ...BucketOption) *BucketStore {
	s := &BucketStore{
		clients:      make(map[string]*clientBucket),
		limit:        rate.Limit(rps),
		size:         size,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BucketStore) RPS() float64 { return float64(s.limit) }
func (s *BucketStore) Burst() int   { return s.size }

// Take consome um token do cliente. Sem token, devolve quanto falta para o
// próximo sem deixar reserva pendurada no limiter.
func (s *BucketStore) Take(key string) BurstDecision {
	now := s.now()

	s.mu.Lock()
	cb, ok := s.clients[key]
	if !ok {
		cb = &clientBucket{lim: rate.NewLimiter(s.limit, s.size)}
		s.clients[key] = cb
	}
	cb.lastSeen = now
	s.mu.Unlock()

	if cb.lim.AllowN(now, 1) {
		return BurstDecision{Allowed: true}
	}

	r := cb.lim.ReserveN(now, 1)
	if !r.OK() {
		// size <= 0: nunca haverá token
		return BurstDecision{RetryAfter: rate.InfDuration}
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return BurstDecision{RetryAfter: wait}
}

// Len informa quantos clientes têm bucket ativo.
func (s *BucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Cleanup descarta clientes ociosos há mais de idleTTL.
func (s *BucketStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, cb := range s.clients {
		if cb.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

// StartJanitor roda Cleanup periodicamente. Pare cancelando o contexto.
func (s *BucketStore) StartJanitor(ctx janitor.DoneContext) {
	janitor.Start(ctx, s.cleanupEvery, s.Cleanup)
}
