package sched

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ardnew/softwlan/mq"
	"github.com/ardnew/softwlan/pkg"
)

// RetryPolicy bounds [Scheduler.PostRetry]. Zero fields take the defaults
// noted on each field.
type RetryPolicy struct {
	InitialInterval time.Duration // Default 1ms
	MaxInterval     time.Duration // Default 50ms
	MaxElapsed      time.Duration // Default 1s
	MaxTries        uint          // Default unlimited within MaxElapsed
}

// PostRetry posts like [Scheduler.PostFlow] but retries with exponential
// backoff while the envelope pool is exhausted. Every other error is returned
// at once. The caller keeps ownership of msg.Payload on error.
func (s *Scheduler) PostRetry(ctx context.Context, flow Flow, dest Destination, msg mq.Message, policy RetryPolicy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	maxElapsed := time.Second
	if policy.MaxElapsed > 0 {
		maxElapsed = policy.MaxElapsed
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxElapsed),
	}
	if policy.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(policy.MaxTries))
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.PostFlow(flow, dest, msg)
		if err != nil && !errors.Is(err, pkg.ErrResourceExhausted) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	if err != nil && attempts > 1 {
		pkg.LogWarn(pkg.ComponentSched, "post retry gave up",
			"flow", flow, "dest", dest, "kind", msg.Kind, "attempts", attempts, "error", err)
	}
	return err
}
