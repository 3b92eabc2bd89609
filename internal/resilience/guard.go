package resilience

import (
	"context"
	"time"
)

// Guard wraps calls to one external service with a per-attempt timeout,
// retry on transient errors and a circuit breaker.
type Guard struct {
	Service string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *Breaker
}

// NewGuard creates a Guard with its own breaker.
func NewGuard(service string, timeout time.Duration, retry RetryConfig, breaker BreakerConfig) *Guard {
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(service, "call")
	}
	return &Guard{
		Service: service,
		Timeout: timeout,
		Retry:   retry,
		Breaker: NewBreaker(service, breaker),
	}
}

// Call runs fn under g. A nil Guard runs fn directly.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	return DoVal(ctx, g.Retry, func(ctx context.Context) (T, error) {
		var zero T
		if g.Breaker != nil {
			if err := g.Breaker.Allow(); err != nil {
				return zero, err
			}
		}

		callCtx := ctx
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}

		val, err := fn(callCtx)
		if g.Breaker != nil {
			g.Breaker.Record(err)
		}
		return val, err
	})
}
