package core

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts    = 1
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// RetryPolicy bounds per-record provider retries. One attempt keeps the
// behavior of a plain sequential scan: failures wait for the next rerun.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	out := p
	if out.MaxAttempts < 1 {
		out.MaxAttempts = defaultMaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultInitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = defaultMaxBackoff
	}
	return out
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func callWithRetry[T any](
	ctx context.Context,
	policy RetryPolicy,
	scheduler BackoffScheduler,
	call func(ctx context.Context) (T, error),
) (T, int, error) {
	policy = policy.normalized()
	if scheduler == nil {
		scheduler = ExponentialBackoffScheduler{Initial: policy.InitialBackoff, Max: policy.MaxBackoff}
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := call(ctx)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts || !isRetryable(err) {
			return zero, attempt, err
		}
		if waitErr := waitWithContext(ctx, scheduler.NextDelay(attempt)); waitErr != nil {
			return zero, attempt, waitErr
		}
	}
	return zero, policy.MaxAttempts, lastErr
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
