package intent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FallbackClassifier tries a primary classifier first and falls back on
// error. Cancellation and deadline errors are returned as-is.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *zap.Logger
}

func NewFallbackClassifier(primary, fallback Classifier, logger *zap.Logger) *FallbackClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackClassifier{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClassifier) Classify(ctx context.Context, in Input) (Decision, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Classify(ctx, in)
		}
		return Decision{}, fmt.Errorf("fallback classifier misconfigured")
	}
	d, err := c.primary.Classify(ctx, in)
	if err == nil {
		return d, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{}, err
	}
	if c.fallback == nil {
		return Decision{}, err
	}
	c.logger.Debug("primary classifier failed, using fallback", zap.Error(err))
	fd, fallbackErr := c.fallback.Classify(ctx, in)
	if fallbackErr != nil {
		return Decision{}, &ClassificationError{
			Reason: "primary and fallback classifiers failed",
			Err:    fmt.Errorf("primary: %w; fallback: %v", err, fallbackErr),
		}
	}
	return fd, nil
}
