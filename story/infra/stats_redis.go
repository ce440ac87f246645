package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"story-gateway/story/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de admissão em hashes do Redis.
//
// Apenas contadores: o estado do cache e das janelas continua só em memória.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por escopo.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão), "hour" ou "none"

	trackScopes bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackScopes(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackScopes = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "story:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bucketKey devolve a chave da série temporal, ou "" quando desligada.
func (s *RedisStatsStore) bucketKey(at time.Time) string {
	switch s.bucket {
	case "minute":
		return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	case "hour":
		return fmt.Sprintf("%s:hour:%s", s.prefix, at.UTC().Format("2006010215"))
	default:
		return ""
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if bk := s.bucketKey(at); bk != "" {
		pipe.HIncrBy(ctx, bk, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bk, s.ttl)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if s.trackScopes {
		if sc := strings.TrimSpace(ev.Scope); sc != "" {
			scopeKey := s.prefix + ":scope:" + sc
			pipe.HIncrBy(ctx, scopeKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, scopeKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals lê o hash cumulativo.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	allowed, err := parseCounter(vals["allowed"])
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	denied, err := parseCounter(vals["denied"])
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	return Counters{Allowed: allowed, Denied: denied}, nil
}

func parseCounter(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
