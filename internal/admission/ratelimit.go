package admission

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/service/requestlimit"
	id "parley/pkg/domain"
)

// Limiter admits a request for a client against a scope's sliding window.
type Limiter interface {
	AdmitRequest(ctx context.Context, userID id.UserID, clientIP, scope string, now time.Time) (*models.RateLimitResult, error)
}

// RateLimitGate applies the limiter to the guarded path and methods only.
type RateLimitGate struct {
	limiter    Limiter
	pathPrefix string
	methods    map[string]struct{}
}

func NewRateLimitGate(limiter Limiter, pathPrefix string, methods []string) (*RateLimitGate, error) {
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	return &RateLimitGate{limiter: limiter, pathPrefix: pathPrefix, methods: set}, nil
}

// Guards reports whether the gate evaluates requests of this shape.
func (g *RateLimitGate) Guards(method, path string) bool {
	if _, ok := g.methods[strings.ToUpper(method)]; !ok {
		return false
	}
	return matchesPrefix(path, g.pathPrefix)
}

// Intercept fails closed: a request with no client key or a limiter that
// cannot answer is rejected.
func (g *RateLimitGate) Intercept(ctx context.Context, req *Request) error {
	if !g.Guards(req.Method, req.Path) {
		return nil
	}

	result, err := g.limiter.AdmitRequest(ctx, req.UserID, req.ClientIP, g.pathPrefix, req.Now)
	switch {
	case errors.Is(err, requestlimit.ErrNoClientKey):
		return rejectMissingIdentity()
	case err != nil:
		return rejectLimiterUnavailable()
	}

	req.RateLimit = result
	if !result.Allowed {
		return rejectRateLimit(result.RetryAfter)
	}
	return nil
}
