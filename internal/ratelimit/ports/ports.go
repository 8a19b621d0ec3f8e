// Package ports defines shared interfaces for the ratelimit module.
package ports

import (
	"context"
	"time"

	"parley/internal/ratelimit/models"
)

// BucketStore manages sliding window rate limit counters. Implementations
// must make the prune, decide and append sequence atomic per key.
type BucketStore interface {
	// Allow prunes timestamps at or before now-period, then admits and records
	// now if fewer than limit remain.
	Allow(ctx context.Context, key string, limit int, period time.Duration, now time.Time) (*models.RateLimitResult, error)

	// Reset clears the rate limit counter for a key.
	Reset(ctx context.Context, key string) error

	// GetCurrentCount returns the number of timestamps inside the window
	// ending at now.
	GetCurrentCount(ctx context.Context, key string, period time.Duration, now time.Time) (int, error)
}
