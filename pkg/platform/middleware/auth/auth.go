package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "parley/pkg/domain"
	"parley/pkg/requestcontext"
)

// TokenValidator validates bearer tokens and yields the principal they carry.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is the verified principal extracted from a token.
type Claims struct {
	UserID id.UserID
	Role   id.Role
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

const (
	reasonMalformedHeader = "Missing or invalid Authorization header"
	reasonInvalidToken    = "Invalid or expired token"
)

type options struct {
	deferRejection bool
}

type Option func(*options)

// DeferRejection lets requests with refused credentials continue anonymously,
// carrying the reason in requestcontext.AuthFailure. A later stage must
// reject them; the admission pipeline does so after the request is logged.
func DeferRejection() Option {
	return func(o *options) {
		o.deferRejection = true
	}
}

// Authenticate attaches the principal to the context when a bearer token is
// present. Requests without a token continue anonymously; requests with an
// invalid token are rejected unless DeferRejection is set.
func Authenticate(validator TokenValidator, logger *slog.Logger, opts ...Option) func(http.Handler) http.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			refuse := func(reason string) {
				if o.deferRejection {
					next.ServeHTTP(w, r.WithContext(requestcontext.WithAuthFailure(ctx, reason)))
					return
				}
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", reason)
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - malformed authorization header",
					"request_id", requestcontext.RequestID(ctx),
				)
				refuse(reasonMalformedHeader)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				refuse(reasonInvalidToken)
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, claims.UserID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests. It must run after Authenticate.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.UserID(ctx).IsNil() {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", reasonMalformedHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
