package scheduler

import (
	"context"
	"math/rand"
	"time"

	"kurz/internal/config"
)

// retryPolicy bounds job attempts and the wall clock they may burn.
type retryPolicy struct {
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	hardCeiling time.Duration
	softCeiling time.Duration
}

func policyFromConfig(cfg *config.Config) retryPolicy {
	return retryPolicy{
		maxAttempts: cfg.Scheduler.MaxAttempts,
		backoffBase: time.Duration(cfg.Scheduler.BackoffBaseSeconds) * time.Second,
		backoffCap:  time.Duration(cfg.Scheduler.BackoffCapSeconds) * time.Second,
		hardCeiling: time.Duration(cfg.Scheduler.JobHardCeiling) * time.Second,
		softCeiling: time.Duration(cfg.Scheduler.JobSoftCeiling) * time.Second,
	}
}

// backoff returns the delay before the given attempt's retry:
// exponential growth from the base, capped, with random jitter so a
// burst of failures does not retry in lockstep.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.backoffBase <= 0 {
		return 0
	}
	d := p.backoffBase
	for i := 1; i < attempt && d < p.backoffCap; i++ {
		d *= 2
	}
	if p.backoffCap > 0 && d > p.backoffCap {
		d = p.backoffCap
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// sleep waits out the backoff unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
