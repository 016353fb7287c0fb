package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// OnRetry is notified after each failed attempt that will be retried, with
// the attempt number (starting at 1) and the error. Used for trace events.
type OnRetry func(attempt int, err error)

// Runner executes functions under the retry table.
type Runner struct {
	policies map[Stage]map[Class]Policy
	rand     func() float64
}

// NewRunner creates a runner over the given policy table; nil selects
// DefaultPolicies.
func NewRunner(policies map[Stage]map[Class]Policy) *Runner {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Runner{
		policies: policies,
		rand:     rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
}

// Do runs fn, retrying per the policy for (stage, classified error class).
// Cancellation stops retrying immediately; errors without a policy entry
// propagate after the first attempt.
func (r *Runner) Do(ctx context.Context, stage Stage, fn func(context.Context) error, onRetry OnRetry) error {
	_, err := DoWithResult(ctx, r, stage, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, onRetry)
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, r *Runner, stage Stage, fn func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T

	attempt := 1
	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}

		class := Classify(stage, err)
		policy, ok := r.policyFor(stage, class)
		if !ok || attempt > policy.Attempts {
			return zero, err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		delay := ComputeDelayWithRand(policy, attempt, r.rand())
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

func (r *Runner) policyFor(stage Stage, class Class) (Policy, bool) {
	byClass, ok := r.policies[stage]
	if !ok {
		return Policy{}, false
	}
	policy, ok := byClass[class]
	return policy, ok
}
