package workflow

import (
	"errors"
	"math"
	"time"
)

// Policy bounds the retries around one handler dispatch. Only transient
// failures are retried; parameter and session-state errors surface
// immediately. See contract.IsTransient.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultPolicy allows two retries with a doubling backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        2,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Delay returns the backoff before retry number retryCount, growing
// exponentially and capped at MaxDelay.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("MaxDelay cannot be smaller than InitialDelay")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	return nil
}
