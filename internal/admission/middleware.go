package admission

import (
	"errors"
	"net/http"
	"strconv"

	"parley/internal/ratelimit/models"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/httputil"
	"parley/pkg/requestcontext"
)

type rejectionResponse struct {
	Message string `json:"message"`
}

// Middleware runs the pipeline for every request and writes the rejection
// response when a stage refuses it. It reads the principal, client metadata,
// request ID and request time from the context, so mount it after those
// middlewares.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := NewRequest(r)

		err := p.Admit(ctx, req)
		addRateLimitHeaders(w, req.RateLimit)
		if err != nil {
			WriteRejection(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRequest builds the pipeline view of r from its context.
func NewRequest(r *http.Request) *Request {
	ctx := r.Context()
	userAgent := requestcontext.UserAgent(ctx)
	if userAgent == "" {
		userAgent = r.UserAgent()
	}
	return &Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		UserID:    requestcontext.UserID(ctx),
		Role:      requestcontext.Role(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: userAgent,
		RequestID: requestcontext.RequestID(ctx),
		Now:       requestcontext.Now(ctx),

		AuthFailure: requestcontext.AuthFailure(ctx),
	}
}

// WriteRejection renders a *Rejection as {"message": ...} with its status.
// Any other error is written through the domain error envelope.
func WriteRejection(w http.ResponseWriter, err error) {
	var rej *Rejection
	if !errors.As(err, &rej) {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "admission failed"))
		return
	}
	if secs := rej.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	httputil.WriteJSON(w, rej.Status, rejectionResponse{Message: rej.Message})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
