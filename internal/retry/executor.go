// Package retry wraps a single delivery operation with bounded,
// linearly-scaled backoff. It knows nothing about what the operation does;
// callers must only hand it idempotent work.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Defaults: up to 3 attempts, waiting base*k before attempt k+1.
// No jitter, no cap beyond the attempt bound.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
)

// MetricsSink records retry metrics. Methods must be fire-and-forget.
type MetricsSink interface {
	RetryAttempt()
}

// Executor runs an operation with bounded retries.
type Executor struct {
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
	metrics     MetricsSink // optional, nil = disabled

	wait func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. maxAttempts < 1 or a negative base fall back to
// the defaults.
func New(maxAttempts int, backoffBase time.Duration, logger *zap.Logger) *Executor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffBase < 0 {
		backoffBase = DefaultBackoffBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
		wait:        waitTimer,
	}
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// MaxAttempts returns the configured attempt bound.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Do runs op until it succeeds or the attempt budget is spent. It returns
// the number of attempts made and, on exhaustion, the last error only;
// earlier errors are reported through the log, not aggregated. A cancelled
// context aborts the backoff wait and returns ctx.Err().
func (e *Executor) Do(ctx context.Context, label string, op func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			if e.metrics != nil {
				e.metrics.RetryAttempt()
			}
			backoff := e.backoffBase * time.Duration(attempt-1)
			e.logger.Info("backing off before retry",
				zap.String("op", label),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			if err := e.wait(ctx, backoff); err != nil {
				return attempt - 1, err
			}
		}

		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		e.logger.Warn("attempt failed",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.maxAttempts),
			zap.Error(err),
		)
	}

	return e.maxAttempts, lastErr
}

func waitTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
