package reliability

import (
	"context"
	"time"
)

// Policy bounds one logical call: every attempt gets its own Timeout and
// at most MaxRetries extra attempts follow a retryable failure.
type Policy struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// retry budget, or ctx is done. It returns the number of attempts made and
// the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts++
		err := p.attempt(ctx, fn)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		if attempts > p.MaxRetries || !IsRetryable(err) {
			return attempts, err
		}

		wait := ExponentialBackoff(attempts-1, p.BaseBackoff, p.maxBackoff())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) maxBackoff() time.Duration {
	if p.MaxBackoff < p.BaseBackoff {
		return p.BaseBackoff
	}
	return p.MaxBackoff
}
