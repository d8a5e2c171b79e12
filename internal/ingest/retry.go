package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"strings"
	"time"
)

// RetryPolicy classifies errors as retryable vs terminal and computes
// jittered exponential backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy with sane defaults.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    60 * time.Second,
	}
}

// NewRetryPolicyWith builds a policy from explicit knobs; zero values fall
// back to the defaults.
func NewRetryPolicyWith(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	p := NewRetryPolicy()
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// MaxAttempts returns the configured attempt ceiling.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Substrings that mark an error as terminal. Checked before the retryable
// list so that, e.g., "HTTP 404" short-circuits.
var terminalFragments = []string{
	"http 400",
	"http 401",
	"http 403",
	"http 404",
	"invalid url",
	"robots disallowed",
}

var retryableFragments = []string{
	"timeout",
	"timed out",
	"etimedout",
	"econnreset",
	"enotfound",
	"socket hang up",
	"network error",
	"connection refused",
	"connection reset",
	"http 429",
	"http 502",
	"http 503",
	"http 504",
}

var retryableStatuses = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// ShouldRetry reports whether err is worth another attempt. Unclassified
// errors are treated as terminal to avoid retry loops on unknown failure
// modes.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts-1 {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case ErrKindTimeout, ErrKindNetwork:
			return true
		case ErrKindHTTPStatus:
			return retryableStatuses[fe.StatusCode]
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range terminalFragments {
		if strings.Contains(msg, fragment) {
			return false
		}
	}
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Backoff returns the wait duration before the given attempt, exponential
// with +/-20% jitter, capped at the configured maximum.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitterSpan := time.Duration(delay / 5)
	base := time.Duration(delay) - jitterSpan
	return base + p.randomJitter(2*jitterSpan)
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
