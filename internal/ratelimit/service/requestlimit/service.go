// Package requestlimit admits or rejects requests against a per-client
// sliding window.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parley/internal/ratelimit/metrics"
	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/ports"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

// BucketStore is aliased so callers need not import ports.
type BucketStore = ports.BucketStore

const (
	DefaultLimit  = 5
	DefaultPeriod = time.Minute
)

// ErrNoClientKey rejects requests that carry neither a principal nor a
// client address.
var ErrNoClientKey = dErrors.New(dErrors.CodeForbidden, "no sender id")

type Service struct {
	buckets BucketStore
	limit   int
	period  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLimit sets the number of requests admitted per trailing period.
func WithLimit(limit int, period time.Duration) Option {
	return func(s *Service) {
		s.limit = limit
		s.period = period
	}
}

func New(buckets BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}

	svc := &Service{
		buckets: buckets,
		limit:   DefaultLimit,
		period:  DefaultPeriod,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if svc.period <= 0 {
		return nil, errors.New("period must be positive")
	}
	return svc, nil
}

// ClientKey picks the bucket identity for a request: the principal when
// authenticated, otherwise the client address.
func ClientKey(userID id.UserID, clientIP, scope string) (models.RateLimitKey, error) {
	switch {
	case !userID.IsNil():
		return models.NewRateLimitKey(models.KeyPrefixUser, userID.String(), scope), nil
	case clientIP != "":
		return models.NewRateLimitKey(models.KeyPrefixIP, clientIP, scope), nil
	default:
		return models.RateLimitKey{}, ErrNoClientKey
	}
}

// Admit records one request for key at now if the window has room.
// Store failures are returned as CodeUnavailable so callers fail closed.
func (s *Service) Admit(ctx context.Context, key models.RateLimitKey, now time.Time) (*models.RateLimitResult, error) {
	start := time.Now()
	result, err := s.buckets.Allow(ctx, key.String(), s.limit, s.period, now)
	if s.metrics != nil {
		s.metrics.ObserveStore(start)
	}
	if err != nil {
		s.record(metrics.OutcomeStoreError)
		s.logger.ErrorContext(ctx, "rate limit store failed",
			"key", key.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limiter unavailable")
	}

	if !result.Allowed {
		s.record(metrics.OutcomeRejected)
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"key", key.String(),
			"limit", s.limit,
			"window_seconds", int(s.period.Seconds()),
			"retry_after_seconds", result.RetryAfterSeconds(),
			"log_type", "audit",
		)
		return result, nil
	}

	s.record(metrics.OutcomeAllowed)
	return result, nil
}

// AdmitRequest resolves the client key and admits in one call.
func (s *Service) AdmitRequest(ctx context.Context, userID id.UserID, clientIP, scope string, now time.Time) (*models.RateLimitResult, error) {
	key, err := ClientKey(userID, clientIP, scope)
	if err != nil {
		s.record(metrics.OutcomeNoClientKey)
		return nil, err
	}
	return s.Admit(ctx, key, now)
}

// Reset clears a client's window, e.g. after an operator intervention.
func (s *Service) Reset(ctx context.Context, key models.RateLimitKey) error {
	if err := s.buckets.Reset(ctx, key.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reset rate limit")
	}
	return nil
}

// Usage reports the requests currently counted in key's window without
// recording a new one.
func (s *Service) Usage(ctx context.Context, key models.RateLimitKey, now time.Time) (*models.RateLimitUsage, error) {
	count, err := s.buckets.GetCurrentCount(ctx, key.String(), s.period, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limiter unavailable")
	}
	return &models.RateLimitUsage{
		Key:       key.String(),
		Count:     count,
		Limit:     s.limit,
		Remaining: max(0, s.limit-count),
		Window:    s.period,
	}, nil
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordDecision(outcome)
	}
}
