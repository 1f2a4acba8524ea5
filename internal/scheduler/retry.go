package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/pkg/metrics"
)

// RetryPolicy retries transient upstream failures with exponential backoff
// plus jitter. Non-transient failures return immediately.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(attempts int, base time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return RetryPolicy{Attempts: attempts, Base: base, sleep: sleepCtx}
}

// Do runs op up to Attempts times. Waits Base, then Base*2, Base*4, ...
// between attempts, each with up to 20% added jitter.
func (p RetryPolicy) Do(ctx context.Context, marketplaceID, op string, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	delay := p.Base
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		metrics.UpstreamRetries.WithLabelValues(marketplaceID, op).Inc()
		jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
		if serr := sleep(ctx, delay+jitter); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
