package bucket

import (
	"context"
	"sort"
	"sync"
	"time"

	"parley/internal/ratelimit/models"
)

// InMemoryBucketStore implements BucketStore using an in-memory sliding
// window. It is not distributed; use RedisBucketStore when more than one
// process serves traffic.
//
// Windows with nothing left inside the period are dropped by a sweep that
// Allow runs at most once per period. The sweep uses the caller's period, so
// every caller of one store must use the same period.
type InMemoryBucketStore struct {
	mu        sync.RWMutex
	buckets   map[string]*slidingWindow
	lastSweep time.Time
}

// slidingWindow tracks admitted request timestamps, oldest first. Each window
// carries its own lock so unrelated keys never contend.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	// evicted is set once the window has left the map; holders must look
	// the key up again.
	evicted bool
}

// NewInMemoryBucketStore creates a new in-memory bucket store.
func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{
		buckets: make(map[string]*slidingWindow),
	}
}

// Allow checks if a request is allowed and records it if so.
func (s *InMemoryBucketStore) Allow(ctx context.Context, key string, limit int, period time.Duration, now time.Time) (*models.RateLimitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.sweep(now, period)

	sw := s.lockBucket(key)
	defer sw.mu.Unlock()

	sw.prune(now.Add(-period))

	if len(sw.timestamps) >= limit {
		resetAt := now.Add(period)
		if len(sw.timestamps) > 0 {
			resetAt = sw.timestamps[0].Add(period)
		}
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	sw.insert(now)
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(period),
	}, nil
}

// Reset clears the rate limit counter for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw := s.buckets[key]; sw != nil {
		sw.mu.Lock()
		sw.evicted = true
		sw.mu.Unlock()
		delete(s.buckets, key)
	}
	return nil
}

// GetCurrentCount returns the current request count for a key.
func (s *InMemoryBucketStore) GetCurrentCount(_ context.Context, key string, period time.Duration, now time.Time) (int, error) {
	s.mu.RLock()
	sw := s.buckets[key]
	s.mu.RUnlock()
	if sw == nil {
		return 0, nil
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(now.Add(-period))
	return len(sw.timestamps), nil
}

// prune drops timestamps at or before cutoff.
func (sw *slidingWindow) prune(cutoff time.Time) {
	i := sort.Search(len(sw.timestamps), func(i int) bool {
		return sw.timestamps[i].After(cutoff)
	})
	sw.timestamps = sw.timestamps[i:]
}

// insert keeps timestamps ordered; callers may race on capturing now before
// taking the window lock.
func (sw *slidingWindow) insert(t time.Time) {
	i := sort.Search(len(sw.timestamps), func(i int) bool {
		return sw.timestamps[i].After(t)
	})
	sw.timestamps = append(sw.timestamps, time.Time{})
	copy(sw.timestamps[i+1:], sw.timestamps[i:])
	sw.timestamps[i] = t
}

// sweep drops windows with no timestamp after now-period. Lock order is
// s.mu then sw.mu.
func (s *InMemoryBucketStore) sweep(now time.Time, period time.Duration) {
	s.mu.RLock()
	due := now.Sub(s.lastSweep) >= period
	s.mu.RUnlock()
	if !due {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) < period {
		return
	}
	s.lastSweep = now
	cutoff := now.Add(-period)
	for key, sw := range s.buckets {
		sw.mu.Lock()
		if n := len(sw.timestamps); n == 0 || !sw.timestamps[n-1].After(cutoff) {
			sw.evicted = true
			delete(s.buckets, key)
		}
		sw.mu.Unlock()
	}
}

// lockBucket returns the live window for key with its lock held.
func (s *InMemoryBucketStore) lockBucket(key string) *slidingWindow {
	for {
		sw := s.getOrCreateBucket(key)
		sw.mu.Lock()
		if !sw.evicted {
			return sw
		}
		sw.mu.Unlock()
	}
}

// getOrCreateBucket returns an existing bucket or creates a new one.
func (s *InMemoryBucketStore) getOrCreateBucket(key string) *slidingWindow {
	s.mu.RLock()
	sw := s.buckets[key]
	s.mu.RUnlock()
	if sw != nil {
		return sw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sw = s.buckets[key]; sw != nil {
		return sw
	}
	sw = &slidingWindow{}
	s.buckets[key] = sw
	return sw
}
