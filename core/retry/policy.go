// Package retry provides the retry policy used by the link pumps and the
// dataflash reader.
//
// A Policy is a plain value: a maximum number of attempts (zero means
// unbounded) and a delay schedule that is either fixed or grows
// exponentially up to a ceiling.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned by Wait once the policy's attempts are used up.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and how quickly an operation is retried.
type Policy struct {
	// MaxAttempts is the number of retries allowed after the first attempt.
	// Zero means retry forever.
	MaxAttempts int

	// Delay is the wait before the first retry. Zero retries immediately.
	Delay time.Duration

	// Multiplier grows the delay after each retry. Values <= 1 keep the
	// delay fixed.
	Multiplier float64

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration
}

// Unbounded returns a policy that retries forever with a fixed delay.
func Unbounded(delay time.Duration) Policy {
	return Policy{Delay: delay}
}

// Bounded returns a policy that retries at most attempts times with a fixed
// delay.
func Bounded(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// IsUnbounded reports whether the policy never gives up.
func (p Policy) IsUnbounded() bool {
	return p.MaxAttempts <= 0
}

// Exhausted reports whether retry number attempt (1-based) is beyond the
// policy's limit.
func (p Policy) Exhausted(attempt int) bool {
	return !p.IsUnbounded() && attempt > p.MaxAttempts
}

// Backoff returns the delay before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.Delay <= 0 {
		return 0
	}
	d := p.Delay
	if p.Multiplier > 1 {
		f := float64(d)
		for i := 1; i < attempt; i++ {
			f *= p.Multiplier
			if p.MaxDelay > 0 && f >= float64(p.MaxDelay) {
				return p.MaxDelay
			}
		}
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Wait blocks for the backoff of retry number attempt. It returns
// ErrExhausted when the policy does not allow that retry and ctx.Err() if
// the context ends first.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	if p.Exhausted(attempt) {
		return ErrExhausted
	}
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
