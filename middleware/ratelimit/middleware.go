package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RejectFunc escreve a resposta de rejeição. retryAfter pode ser zero.
type RejectFunc func(w http.ResponseWriter, r *http.Request, status int, retryAfter time.Duration)

// Observer é notificado a cada decisão (ex.: métricas/logs).
type Observer func(r *http.Request, key string, allowed bool)

type Options struct {
	Store               *BucketStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
	OnReject            RejectFunc
	Observe             Observer
}

func defaultReject(w http.ResponseWriter, _ *http.Request, status int, _ time.Duration) {
	http.Error(w, http.StatusText(status), status)
}

// Middleware aplica o token bucket por cliente. Sem Store, é um passthrough.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.OnReject == nil {
		opts.OnReject = defaultReject
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-Burst-Key", key)
				w.Header().Set("X-Burst-RPS", strconv.FormatFloat(opts.Store.RPS(), 'f', -1, 64))
				w.Header().Set("X-Burst-Size", strconv.Itoa(opts.Store.Burst()))
			}

			dec := opts.Store.Take(key)
			if opts.Observe != nil {
				opts.Observe(r, key, dec.Allowed)
			}
			if !dec.Allowed {
				if secs, ok := retryAfterSeconds(dec.RetryAfter); ok {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				opts.OnReject(w, r, opts.RejectStatus, dec.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds arredonda para cima (mínimo 1s). Espera infinita não
// gera header.
func retryAfterSeconds(d time.Duration) (int, bool) {
	if d == rate.InfDuration {
		return 0, false
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs, true
}
