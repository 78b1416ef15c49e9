package capability

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
)

// Name identifies one of the generation capabilities.
type Name string

const (
	Text  Name = "text"
	Image Name = "image"
	Audio Name = "audio"
)

// Guard holds the call policy shared by every invocation of one
// capability: rate limit, per-attempt timeout and retry budget.
type Guard struct {
	Name     Name
	Provider string
	Policy   reliability.Policy
	Limiter  *rate.Limiter
	Metrics  *observability.Metrics
}

// NewGuard builds a guard. rps <= 0 disables rate limiting.
func NewGuard(name Name, provider string, policy reliability.Policy, rps float64, burst int, metrics *observability.Metrics) *Guard {
	g := &Guard{Name: name, Provider: provider, Policy: policy, Metrics: metrics}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return g
}

// Call runs fn under g. A disabled capability returns ErrSkipped without
// touching the provider. Failures come back as *Error; caller cancellation
// is reported through the wrapped error and is never retried.
func Call[T any](ctx context.Context, g *Guard, enabled bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !enabled {
		g.observe("skipped", 0)
		return zero, ErrSkipped
	}

	start := time.Now()
	var out T
	attempts, err := g.Policy.Do(ctx, func(attemptCtx context.Context) error {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(attemptCtx); err != nil {
				return err
			}
		}
		v, err := fn(attemptCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		g.observe(outcome, time.Since(start))
		return zero, &Error{Capability: g.Name, Provider: g.Provider, Attempts: attempts, Err: err}
	}
	g.observe("ok", time.Since(start))
	return out, nil
}

func (g *Guard) observe(outcome string, d time.Duration) {
	if g == nil {
		return
	}
	g.Metrics.ObserveCapability(string(g.Name), outcome, d)
}
