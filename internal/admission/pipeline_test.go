package admission

//go:generate mockgen -source=ratelimit.go -destination=mocks/mocks.go -package=mocks Limiter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"parley/internal/admission/metrics"
	"parley/internal/admission/mocks"
	"parley/internal/platform/logger"
	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/service/requestlimit"
	id "parley/pkg/domain"
	audit "parley/pkg/platform/audit"
	"parley/pkg/platform/audit/store/memory"
	"parley/pkg/requestcontext"
)

// =============================================================================
// Admission Pipeline Test Suite
// =============================================================================
// Ordering and short-circuiting are the pipeline's only logic; the limiter is
// mocked so each test states exactly which stages ran.

type PipelineSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	limiter  *mocks.MockLimiter
	logBuf   *bytes.Buffer
	audit    *memory.InMemoryStore
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.limiter = mocks.NewMockLimiter(s.ctrl)
	s.logBuf = &bytes.Buffer{}
	s.audit = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	window, err := NewAccessWindowGate("/api/messages", 18, 22, time.UTC)
	s.Require().NoError(err)
	rateLimit, err := NewRateLimitGate(s.limiter, "/api/messages", []string{http.MethodPost})
	s.Require().NoError(err)
	role, err := NewRoleGate("/api/messages", http.MethodDelete, []id.Role{id.RoleAdmin, id.RoleModerator})
	s.Require().NoError(err)

	sink := slog.New(logger.NewRequestLogHandler(s.logBuf, slog.LevelInfo))
	s.pipeline = NewPipeline(Stages{
		Logger:      NewRequestLogger(sink),
		Credentials: NewCredentialGate(),
		Window:      window,
		RateLimit:   rateLimit,
		Role:        role,
	},
		WithMetrics(s.metrics),
		WithAuditPublisher(audit.NewPublisher(s.audit)),
	)
}

func (s *PipelineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PipelineSuite) request(method, path string, hour int) *Request {
	return &Request{
		Method:   method,
		Path:     path,
		Role:     id.RoleGuest,
		ClientIP: "203.0.113.9",
		Now:      at(hour),
	}
}

func (s *PipelineSuite) allowed() *models.RateLimitResult {
	return &models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}
}

func (s *PipelineSuite) rejectionOf(err error) *Rejection {
	var rej *Rejection
	s.Require().ErrorAs(err, &rej)
	return rej
}

func (s *PipelineSuite) TestAdmitsWhenEveryStagePasses() {
	req := s.request(http.MethodPost, "/api/messages", 19)
	s.limiter.EXPECT().
		AdmitRequest(gomock.Any(), req.UserID, req.ClientIP, "/api/messages", req.Now).
		Return(s.allowed(), nil)

	s.Require().NoError(s.pipeline.Admit(context.Background(), req))
	s.NotNil(req.RateLimit)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Admitted))
	s.Contains(s.logBuf.String(), "INFO: User:AnonymousUser Path:/api/messages")
}

func (s *PipelineSuite) TestWindowRejectionSkipsLimiter() {
	// no limiter expectation: the mock fails the test if it is called
	err := s.pipeline.Admit(context.Background(), s.request(http.MethodPost, "/api/messages", 10))

	rej := s.rejectionOf(err)
	s.Equal(ReasonAccessWindow, rej.Reason)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Rejected.WithLabelValues(string(ReasonAccessWindow))))
	s.Contains(s.logBuf.String(), "Path:/api/messages", "logger runs before any rejection")
}

func (s *PipelineSuite) TestRateLimitRejectionSkipsRoleGate() {
	req := s.request(http.MethodPost, "/api/messages", 19)
	s.limiter.EXPECT().
		AdmitRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.RateLimitResult{Allowed: false, Limit: 5, RetryAfter: 50 * time.Second}, nil)

	rej := s.rejectionOf(s.pipeline.Admit(context.Background(), req))
	s.Equal(ReasonRateLimit, rej.Reason)
	s.Equal(http.StatusTooManyRequests, rej.Status)
	s.Equal(50, rej.RetryAfterSeconds())

	events, err := s.audit.ListRecent(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventRateLimitExceeded), events[0].Action)
	s.Equal(audit.CategorySecurity, events[0].Category)
}

func (s *PipelineSuite) TestInvalidCredentialsLoggedThenRejected() {
	// no limiter expectation: refused credentials stop before the rate limit
	req := s.request(http.MethodPost, "/api/messages", 19)
	req.AuthFailure = "Invalid or expired token"

	rej := s.rejectionOf(s.pipeline.Admit(context.Background(), req))
	s.Equal(ReasonInvalidCredentials, rej.Reason)
	s.Equal(http.StatusUnauthorized, rej.Status)
	s.Equal("Invalid or expired token", rej.Message)
	s.Contains(s.logBuf.String(), "User:AnonymousUser Path:/api/messages")

	events, err := s.audit.ListRecent(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventAdmissionRejected), events[0].Action)
	s.Equal(string(ReasonInvalidCredentials), events[0].Reason)
}

func (s *PipelineSuite) TestMissingIdentity() {
	req := s.request(http.MethodPost, "/api/messages", 19)
	req.ClientIP = ""
	s.limiter.EXPECT().
		AdmitRequest(gomock.Any(), gomock.Any(), "", gomock.Any(), gomock.Any()).
		Return(nil, requestlimit.ErrNoClientKey)

	rej := s.rejectionOf(s.pipeline.Admit(context.Background(), req))
	s.Equal(ReasonMissingIdentity, rej.Reason)
	s.Equal(http.StatusForbidden, rej.Status)
	s.Equal("no sender id", rej.Message)
}

func (s *PipelineSuite) TestLimiterUnavailableFailsClosed() {
	req := s.request(http.MethodPost, "/api/messages", 19)
	s.limiter.EXPECT().
		AdmitRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("dial tcp: connection refused"))

	rej := s.rejectionOf(s.pipeline.Admit(context.Background(), req))
	s.Equal(ReasonLimiterUnavailable, rej.Reason)
	s.Equal(http.StatusServiceUnavailable, rej.Status)
}

func (s *PipelineSuite) TestRoleGateRunsLast() {
	req := s.request(http.MethodDelete, "/api/messages/123", 19)

	rej := s.rejectionOf(s.pipeline.Admit(context.Background(), req))
	s.Equal(ReasonRole, rej.Reason)

	req.Role = id.RoleModerator
	s.NoError(s.pipeline.Admit(context.Background(), req))
}

func (s *PipelineSuite) TestSafeMethodsBypassGates() {
	for _, hour := range []int{3, 10, 19} {
		s.NoError(s.pipeline.Admit(context.Background(), s.request(http.MethodGet, "/api/messages", hour)))
	}
}

func (s *PipelineSuite) TestCancelledContextStops() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.pipeline.Admit(ctx, s.request(http.MethodPost, "/api/messages", 19))
	s.ErrorIs(err, context.Canceled)
	s.Empty(s.logBuf.String())
}

func (s *PipelineSuite) TestNilStagesSkipped() {
	p := NewPipeline(Stages{})
	s.NoError(p.Admit(context.Background(), s.request(http.MethodDelete, "/api/messages/1", 3)))
}

func (s *PipelineSuite) TestMiddleware() {
	reached := false
	handler := s.pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusCreated)
	}))

	newReq := func(method string, hour int) *http.Request {
		r := httptest.NewRequest(method, "/api/messages", strings.NewReader(`{}`))
		ctx := requestcontext.WithTime(r.Context(), at(hour))
		ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.9", "curl/8.0")
		return r.WithContext(ctx)
	}

	s.Run("rate limited response", func() {
		reached = false
		s.limiter.EXPECT().
			AdmitRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.RateLimitResult{Allowed: false, Limit: 5, ResetAt: at(20), RetryAfter: 49500 * time.Millisecond}, nil)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newReq(http.MethodPost, 19))

		s.False(reached)
		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("50", rec.Header().Get("Retry-After"))
		s.Equal("5", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal("0", rec.Header().Get("X-RateLimit-Remaining"))
		s.JSONEq(`{"message":"too many requests"}`, rec.Body.String())
	})

	s.Run("refused token is logged and answered with 401", func() {
		reached = false
		rec := httptest.NewRecorder()
		r := newReq(http.MethodGet, 19)
		r = r.WithContext(requestcontext.WithAuthFailure(r.Context(), "Invalid or expired token"))
		handler.ServeHTTP(rec, r)

		s.False(reached)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.JSONEq(`{"message":"Invalid or expired token"}`, rec.Body.String())
	})

	s.Run("window response", func() {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newReq(http.MethodPost, 10))

		s.False(reached)
		s.Equal(http.StatusForbidden, rec.Code)
		s.Empty(rec.Header().Get("Retry-After"))
		s.JSONEq(`{"message":"access restricted at this time"}`, rec.Body.String())
	})

	s.Run("admitted request reaches handler with quota headers", func() {
		reached = false
		s.limiter.EXPECT().
			AdmitRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(s.allowed(), nil)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newReq(http.MethodPost, 19))

		s.True(reached)
		s.Equal(http.StatusCreated, rec.Code)
		s.Equal("4", rec.Header().Get("X-RateLimit-Remaining"))
	})
}

func (s *PipelineSuite) TestWriteRejectionNonRejectionError() {
	rec := httptest.NewRecorder()
	WriteRejection(rec, errors.New("boom"))
	s.Equal(http.StatusInternalServerError, rec.Code)
}
