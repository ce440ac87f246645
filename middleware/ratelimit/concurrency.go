package ratelimit

import (
	"context"
	"net/http"
	"time"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	OnReject       RejectFunc
}

// semaphore é um pool simples baseado em channel com capacidade fixa.
type semaphore chan struct{}

// acquire espera por uma vaga até o ctx encerrar.
// - Se `timeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `timeout > 0`, espera até o timeout.
func (s semaphore) acquire(ctx context.Context, timeout time.Duration) (func(), bool) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case s <- struct{}{}:
		return func() { <-s }, true
	case <-ctx.Done():
		return nil, false
	}
}

// ConcurrencyMiddleware limita requisições simultâneas. Max <= 0 desliga.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.OnReject == nil {
		opts.OnReject = defaultReject
	}

	sem := make(semaphore, opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := sem.acquire(r.Context(), opts.AcquireTimeout)
			if !ok {
				opts.OnReject(w, r, opts.RejectStatus, 0)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
