package models

import (
	"math"
	"time"
)

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is only set when not allowed: the time until the oldest
	// admitted request leaves the window.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as sent in the
// Retry-After header. Never returns less than 1 for a rejection.
func (r *RateLimitResult) RetryAfterSeconds() int {
	if r == nil || r.Allowed {
		return 0
	}
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimitUsage is a read-only view of a client's current window.
type RateLimitUsage struct {
	Key       string        `json:"key"`
	Count     int           `json:"count"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	Window    time.Duration `json:"-"`
}
