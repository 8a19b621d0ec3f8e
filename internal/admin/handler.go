// Package admin exposes operator routes: the recent audit trail and rate
// limit inspection and resets. Every route requires the admin role.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/service/requestlimit"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	audit "parley/pkg/platform/audit"
	"parley/pkg/platform/httputil"
	"parley/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type AuditLog interface {
	Emit(ctx context.Context, event audit.Event) error
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

type RateLimitAdmin interface {
	Reset(ctx context.Context, key models.RateLimitKey) error
	Usage(ctx context.Context, key models.RateLimitKey, now time.Time) (*models.RateLimitUsage, error)
}

type Handler struct {
	audit   AuditLog
	limiter RateLimitAdmin
	scope   string
	logger  *slog.Logger
}

// New builds the admin handler. scope is the guarded path whose buckets
// are inspected and reset.
func New(auditLog AuditLog, limiter RateLimitAdmin, scope string, logger *slog.Logger) *Handler {
	return &Handler{audit: auditLog, limiter: limiter, scope: scope, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAdmin(h.logger))
		r.Get("/audit", h.HandleRecentAudit)
		r.Get("/ratelimit", h.HandleRateLimitUsage)
		r.Delete("/ratelimit", h.HandleResetRateLimit)
	})
}

func requireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.UserID(ctx).IsNil() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if requestcontext.Role(ctx) != id.RoleAdmin {
				logger.WarnContext(ctx, "admin route denied",
					"user_id", requestcontext.UserID(ctx).String(),
					"role", requestcontext.Role(ctx).String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandleRecentAudit lists the newest audit events. ?limit bounds the count.
func (h *Handler) HandleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	events, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditEventsResponse{Events: events, Total: len(events)})
}

// HandleRateLimitUsage reports one client's current window on the guarded
// path without counting a request. The client is named by ?user_id or ?ip.
func (h *Handler) HandleRateLimitUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, _, _, err := h.clientKey(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	usage, err := h.limiter.Usage(ctx, key, requestcontext.Now(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "rate limit usage failed", "key", key.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, RateLimitUsageResponse{
		Key:           usage.Key,
		Count:         usage.Count,
		Limit:         usage.Limit,
		Remaining:     usage.Remaining,
		WindowSeconds: int(usage.Window.Seconds()),
	})
}

// HandleResetRateLimit clears one client's window on the guarded path. The
// client is named by ?user_id or ?ip.
func (h *Handler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, userID, ip, err := h.clientKey(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.limiter.Reset(ctx, key); err != nil {
		h.logger.ErrorContext(ctx, "rate limit reset failed", "key", key.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}

	event := audit.NewEvent(audit.EventRateLimitReset, requestcontext.Now(ctx))
	event.UserID = userID
	event.IP = ip
	event.Subject = key.String()
	event.ActorID = requestcontext.UserID(ctx).String()
	event.RequestID = requestcontext.RequestID(ctx)
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}

	httputil.WriteJSON(w, http.StatusOK, RateLimitResetResponse{Key: key.String()})
}

func (h *Handler) clientKey(r *http.Request) (models.RateLimitKey, id.UserID, string, error) {
	q := r.URL.Query()

	var userID id.UserID
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		parsed, err := id.ParseUserID(raw)
		if err != nil {
			return models.RateLimitKey{}, id.UserID{}, "", err
		}
		userID = parsed
	}
	ip := strings.TrimSpace(q.Get("ip"))
	if userID.IsNil() && ip == "" {
		return models.RateLimitKey{}, id.UserID{}, "", dErrors.New(dErrors.CodeBadRequest, "user_id or ip is required")
	}

	key, err := requestlimit.ClientKey(userID, ip, h.scope)
	if err != nil {
		return models.RateLimitKey{}, id.UserID{}, "", err
	}
	return key, userID, ip, nil
}
