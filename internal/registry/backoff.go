package registry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy is the shared retry schedule: attempt n waits
// min(InitialDelay * 2^n, MaxDelay) scaled by a jitter drawn uniformly
// from [0.75, 1.25]. The jitter keeps independent clients from retrying
// in lockstep after a registry brownout.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoffPolicy matches the registry client defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  3,
	}
}

// NewBackOff builds the underlying schedule for one operation's retries.
func (p BackoffPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25

	return b
}

// Tries returns the attempt budget as an unsigned count. A non-positive
// MaxAttempts would wrap around on conversion and make the budget
// unlimited, so it clamps to a single attempt instead.
func (p BackoffPolicy) Tries() uint {
	if p.MaxAttempts < 1 {
		return 1
	}

	return uint(p.MaxAttempts)
}

// Delay returns the jittered wait before retry attempt n (0-based). It is
// used where the schedule is keyed per item rather than per call, so that
// heavily retried items back off independently.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	b := p.NewBackOff()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}

	return d
}
