// Package retry defines the backoff policy used for connection attempts.
package retry

import (
	"errors"
	"math"
	"time"
)

// Policy defines retry behavior for connection establishment
type Policy struct {
	Retries  int           // Additional attempts after the first failure (0 = no retries)
	Backoff  time.Duration // Base delay; attempt n waits Backoff * 2^n
	MaxDelay time.Duration // Cap on any single delay
}

// DefaultPolicy returns the default retry policy for connections
func DefaultPolicy() Policy {
	return Policy{
		Retries:  3,
		Backoff:  500 * time.Millisecond,
		MaxDelay: 30 * time.Second,
	}
}

// NoRetryPolicy returns a policy that fails on the first error
func NoRetryPolicy() Policy {
	return Policy{
		Retries:  0,
		Backoff:  0,
		MaxDelay: 0,
	}
}

// Delay calculates the wait before retry attempt n using exponential backoff
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.Backoff) * math.Pow(2, float64(attempt))

	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// ShouldRetry determines if another attempt is permitted after attempt failures
func (p *Policy) ShouldRetry(attempt int) bool {
	return attempt < p.Retries
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.Retries < 0 {
		return errors.New("Retries must be non-negative")
	}
	if p.Backoff < 0 {
		return errors.New("Backoff must be non-negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("MaxDelay must be non-negative")
	}
	if p.MaxDelay > 0 && p.Backoff > p.MaxDelay {
		return errors.New("Backoff cannot be greater than MaxDelay")
	}
	return nil
}
