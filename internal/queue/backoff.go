package queue

import (
	"math/rand"
	"time"
)

// BackoffConfig bounds the retry delay for failed jobs.
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff returns the retry delay bounds used when none are configured.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 5 * time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// NextRetryAt computes the next retry time using exponential backoff with
// full jitter. attempt is 1-based (1 => up to BaseDelay).
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoff().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoff().MaxDelay
	}

	// Shifting by more than ~40 overflows a Duration; the cap below makes
	// larger attempts equivalent anyway.
	shift := attempt - 1
	if shift > 40 {
		shift = 40
	}

	delay := cfg.BaseDelay << shift
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	jitter := time.Duration(rng.Int63n(int64(delay) + 1))

	return now.Add(jitter).UTC()
}
