package retry

import (
	"errors"
	"math"
	"time"
)

// Policy defines exponential backoff with a cap.
type Policy struct {
	MaxAttempts       int           // Maximum number of attempts including the first (0 = unlimited)
	InitialDelay      time.Duration // Delay before the first retry
	MaxDelay          time.Duration // Upper bound for any single delay
	BackoffMultiplier float64       // Multiplier between consecutive delays
}

// MatchingPolicy is used by sessions waiting for coverage.
func MatchingPolicy() Policy {
	return Policy{
		InitialDelay:      2 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DeliveryPolicy is used for per-recipient notification retries.
func DeliveryPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Delay returns the wait before retry number retryCount (0-based).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt is allowed after attempts tries.
func (p Policy) ShouldRetry(attempts int) bool {
	return p.MaxAttempts <= 0 || attempts < p.MaxAttempts
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("MaxAttempts must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier < 1 {
		return errors.New("BackoffMultiplier must be at least 1")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}
