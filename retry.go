package simmer

import (
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

// RetryBuilder assembles a RetrySpec by value; each call returns a modified
// copy, so partially built policies can be shared and forked.
//
//	spec := simmer.Retry(4).WithExponentialBackoff(time.Second, 30*time.Second).Spec()
type RetryBuilder struct {
	spec api.RetrySpec
}

// Retry starts a policy allowing maxAttempts total attempts, the first
// included.
func Retry(maxAttempts int) RetryBuilder {
	return RetryBuilder{spec: api.RetrySpec{MaxAttempts: maxAttempts}}
}

// WithExponentialBackoff doubles the delay after every failed attempt,
// starting at initial and capped at max.
func (b RetryBuilder) WithExponentialBackoff(initial, max time.Duration) RetryBuilder {
	b.spec.Backoff = api.BackoffExponential
	b.spec.InitialDelay = initial.Seconds()
	b.spec.MaxDelay = max.Seconds()
	return b
}

// WithLinearBackoff grows the delay by initial after every failed attempt,
// capped at max.
func (b RetryBuilder) WithLinearBackoff(initial, max time.Duration) RetryBuilder {
	b.spec.Backoff = api.BackoffLinear
	b.spec.InitialDelay = initial.Seconds()
	b.spec.MaxDelay = max.Seconds()
	return b
}

// Spec returns the assembled policy for use with WithRetry or a Step
// literal.
func (b RetryBuilder) Spec() *RetrySpec {
	spec := b.spec
	return &spec
}
