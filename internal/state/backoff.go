package state

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy configures retry delays for RETRYING records.
type BackoffPolicy struct {
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RandomizationFactor float64
}

// DefaultBackoffPolicy returns the policy used when none is configured.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialInterval:     10 * time.Second,
		Multiplier:          2,
		MaxInterval:         30 * time.Minute,
		RandomizationFactor: 0.2,
	}
}

// Delay returns the delay before retry number attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()

	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
		if d >= p.MaxInterval {
			break
		}
	}
	return min(d, p.MaxInterval)
}

// next returns the delay for the given attempt. It never returns less than
// the previous delay or the caller's hint, and only the hint may exceed
// MaxInterval.
func (p BackoffPolicy) next(attempt int, previous, hint time.Duration) time.Duration {
	d := max(p.Delay(attempt), min(previous, p.MaxInterval))
	return max(d, hint)
}
