package domain

import (
	"errors"
	"time"
)

var (
	ErrValidation  = errors.New("story: word is required")
	ErrRateLimited = errors.New("story: rate limit exceeded")
	ErrUpstream    = errors.New("story: upstream generation failed")
	ErrNotFound    = errors.New("story: endpoint not found")
)

// RateLimitError carrega a dica de Retry-After da decisão que rejeitou.
type RateLimitError struct {
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// UpstreamError cobre falha de rede, status não-2xx e timeout do upstream.
//
// Message é repassada ao cliente (details) quando existir.
// KeySource é preenchido pelo orquestrador, independente do resultado.
type UpstreamError struct {
	StatusCode int
	Message    string
	KeySource  KeySource
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrUpstream.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
