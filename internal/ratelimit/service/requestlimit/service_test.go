package requestlimit

//go:generate mockgen -source=../../ports/ports.go -destination=mocks/mocks.go -package=mocks BucketStore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"parley/internal/ratelimit/metrics"
	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/service/requestlimit/mocks"
	"parley/internal/ratelimit/store/bucket"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
)

// =============================================================================
// Request Limit Service Test Suite
// =============================================================================
// The service owns key selection, fail-closed error mapping and decision
// metrics. Window arithmetic is covered by the bucket store tests.

type RequestLimitSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	buckets *mocks.MockBucketStore
	metrics *metrics.Metrics
	service *Service
	now     time.Time
}

func TestRequestLimitSuite(t *testing.T) {
	suite.Run(t, new(RequestLimitSuite))
}

func (s *RequestLimitSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.buckets = mocks.NewMockBucketStore(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)

	svc, err := New(s.buckets, WithLimit(5, time.Minute), WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.service = svc
}

func (s *RequestLimitSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RequestLimitSuite) TestNew() {
	s.Run("nil buckets store returns error", func() {
		_, err := New(nil)
		s.ErrorContains(err, "buckets store is required")
	})

	s.Run("non-positive limit rejected", func() {
		_, err := New(s.buckets, WithLimit(0, time.Minute))
		s.ErrorContains(err, "limit must be positive")
	})

	s.Run("non-positive period rejected", func() {
		_, err := New(s.buckets, WithLimit(5, 0))
		s.ErrorContains(err, "period must be positive")
	})

	s.Run("defaults applied", func() {
		svc, err := New(s.buckets)
		s.Require().NoError(err)
		s.Equal(DefaultLimit, svc.limit)
		s.Equal(DefaultPeriod, svc.period)
	})
}

func (s *RequestLimitSuite) TestClientKey() {
	userID := id.NewUserID()

	s.Run("principal preferred over address", func() {
		key, err := ClientKey(userID, "10.0.0.1", "/api/messages")
		s.Require().NoError(err)
		s.Equal(models.KeyPrefixUser, key.Prefix)
		s.Equal(userID.String(), key.Identifier)
	})

	s.Run("address used when anonymous", func() {
		key, err := ClientKey(id.UserID{}, "10.0.0.1", "/api/messages")
		s.Require().NoError(err)
		s.Equal("rl:ip:10.0.0.1:/api/messages", key.String())
	})

	s.Run("no identity fails closed", func() {
		_, err := ClientKey(id.UserID{}, "", "/api/messages")
		s.ErrorIs(err, ErrNoClientKey)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *RequestLimitSuite) TestAdmit() {
	ctx := context.Background()
	key := models.NewRateLimitKey(models.KeyPrefixIP, "10.0.0.1", "/api/messages")

	s.Run("allowed passes through", func() {
		s.buckets.EXPECT().
			Allow(ctx, key.String(), 5, time.Minute, s.now).
			Return(&models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}, nil)

		result, err := s.service.Admit(ctx, key, s.now)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(metrics.OutcomeAllowed)))
	})

	s.Run("rejected is not an error", func() {
		s.buckets.EXPECT().
			Allow(ctx, key.String(), 5, time.Minute, s.now).
			Return(&models.RateLimitResult{Allowed: false, Limit: 5, RetryAfter: 12 * time.Second}, nil)

		result, err := s.service.Admit(ctx, key, s.now)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(12, result.RetryAfterSeconds())
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(metrics.OutcomeRejected)))
	})

	s.Run("store failure fails closed as unavailable", func() {
		s.buckets.EXPECT().
			Allow(ctx, key.String(), 5, time.Minute, s.now).
			Return(nil, sentinel.ErrUnavailable)

		result, err := s.service.Admit(ctx, key, s.now)
		s.Nil(result)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.ErrorIs(err, sentinel.ErrUnavailable)
	})
}

func (s *RequestLimitSuite) TestAdmitRequestWithoutIdentity() {
	result, err := s.service.AdmitRequest(context.Background(), id.UserID{}, "", "/api/messages", s.now)
	s.Nil(result)
	s.ErrorIs(err, ErrNoClientKey)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(metrics.OutcomeNoClientKey)))
}

func (s *RequestLimitSuite) TestReset() {
	key := models.NewRateLimitKey(models.KeyPrefixUser, "u", "/api/messages")
	s.buckets.EXPECT().Reset(gomock.Any(), key.String()).Return(errors.New("boom"))

	err := s.service.Reset(context.Background(), key)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *RequestLimitSuite) TestUsage() {
	key := models.NewRateLimitKey(models.KeyPrefixIP, "203.0.113.9", "/api/messages")

	s.Run("reports count and remaining", func() {
		s.buckets.EXPECT().GetCurrentCount(gomock.Any(), key.String(), time.Minute, s.now).Return(3, nil)

		usage, err := s.service.Usage(context.Background(), key, s.now)
		s.Require().NoError(err)
		s.Equal(3, usage.Count)
		s.Equal(5, usage.Limit)
		s.Equal(2, usage.Remaining)
		s.Equal(time.Minute, usage.Window)
	})

	s.Run("store failure maps to unavailable", func() {
		s.buckets.EXPECT().GetCurrentCount(gomock.Any(), key.String(), time.Minute, s.now).Return(0, errors.New("boom"))

		_, err := s.service.Usage(context.Background(), key, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

// Five requests in a minute pass, the sixth is rejected with the time until
// the first leaves the window, and the window reopens after a full period.
func TestSlidingWindowScenario(t *testing.T) {
	svc, err := New(bucket.NewInMemoryBucketStore(), WithLimit(5, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

	for _, sec := range []int{0, 10, 20, 30, 40} {
		res, err := svc.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", "/api/messages", at(sec))
		if err != nil || !res.Allowed {
			t.Fatalf("request at t=%d should be admitted: %+v %v", sec, res, err)
		}
	}

	res, err := svc.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", "/api/messages", at(50))
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.RetryAfterSeconds() != 10 {
		t.Fatalf("request at t=50 should be rejected with retry_after=10: %+v", res)
	}

	res, err = svc.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", "/api/messages", at(60))
	if err != nil || !res.Allowed {
		t.Fatalf("request at t=60 should be admitted: %+v %v", res, err)
	}
}
