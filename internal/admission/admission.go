// Package admission runs every inbound request through an ordered chain of
// interceptors before it reaches a handler: request logging, the access
// window, the per-client rate limiter and the role gate. The first
// rejection short-circuits the chain.
package admission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"parley/internal/ratelimit/models"
	id "parley/pkg/domain"
)

// Request is the transport-independent view of an inbound request.
type Request struct {
	Method    string
	Path      string
	UserID    id.UserID
	Role      id.Role
	ClientIP  string
	UserAgent string
	RequestID string
	Now       time.Time

	// AuthFailure is set when the caller presented credentials that did not
	// verify; the request is otherwise treated as anonymous.
	AuthFailure string

	// RateLimit is filled in by the rate limit gate when it evaluated the
	// request, so the transport can expose quota headers.
	RateLimit *models.RateLimitResult
}

// Identity renders the principal for the request log.
func (r *Request) Identity() string {
	if r.UserID.IsNil() {
		return AnonymousIdentity
	}
	return r.UserID.String()
}

// AnonymousIdentity stands in for unauthenticated callers in the request log.
const AnonymousIdentity = "AnonymousUser"

// Reason is the machine-readable cause of a rejection.
type Reason string

const (
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonAccessWindow       Reason = "access_window"
	ReasonMissingIdentity    Reason = "missing_identity"
	ReasonRateLimit          Reason = "rate_limit"
	ReasonRole               Reason = "role"
	ReasonLimiterUnavailable Reason = "limiter_unavailable"
)

// Rejection is returned by an interceptor that refuses a request.
type Rejection struct {
	Reason     Reason
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected (%s): %s", r.Reason, r.Message)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r *Rejection) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int((r.RetryAfter + time.Second - 1) / time.Second)
}

func rejectInvalidCredentials(reason string) *Rejection {
	return &Rejection{Reason: ReasonInvalidCredentials, Status: http.StatusUnauthorized, Message: reason}
}

func rejectAccessWindow() *Rejection {
	return &Rejection{Reason: ReasonAccessWindow, Status: http.StatusForbidden, Message: "access restricted at this time"}
}

func rejectMissingIdentity() *Rejection {
	return &Rejection{Reason: ReasonMissingIdentity, Status: http.StatusForbidden, Message: "no sender id"}
}

func rejectRateLimit(retryAfter time.Duration) *Rejection {
	return &Rejection{Reason: ReasonRateLimit, Status: http.StatusTooManyRequests, Message: "too many requests", RetryAfter: retryAfter}
}

func rejectRole() *Rejection {
	return &Rejection{Reason: ReasonRole, Status: http.StatusForbidden, Message: "not authorized"}
}

func rejectLimiterUnavailable() *Rejection {
	return &Rejection{Reason: ReasonLimiterUnavailable, Status: http.StatusServiceUnavailable, Message: "rate limiter unavailable"}
}

// Interceptor inspects a request and returns a *Rejection to refuse it.
type Interceptor interface {
	Intercept(ctx context.Context, req *Request) error
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *Request) error

func (f InterceptorFunc) Intercept(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
