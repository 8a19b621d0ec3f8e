package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"parley/internal/messaging/models"
	id "parley/pkg/domain"
	"parley/pkg/platform/httputil"
	"parley/pkg/platform/middleware/auth"
	"parley/pkg/requestcontext"
)

// Service is the messaging behaviour the routes expose.
type Service interface {
	RegisterUser(ctx context.Context, actor models.Principal, userID id.UserID, email string, role id.Role) (*models.User, error)
	DeleteUser(ctx context.Context, actor models.Principal, userID id.UserID) (*models.CascadeResult, error)
	SendMessage(ctx context.Context, sender models.Principal, receiver id.UserID, content string) (*models.Message, error)
	EditMessage(ctx context.Context, actor models.Principal, messageID id.MessageID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, actor models.Principal, messageID id.MessageID) (*models.CascadeResult, error)
	MarkMessageRead(ctx context.Context, actor models.Principal, messageID id.MessageID) (*models.Message, error)
	MessageHistory(ctx context.Context, actor models.Principal, messageID id.MessageID) ([]*models.MessageHistory, error)
	UnreadForUser(ctx context.Context, actor models.Principal) ([]*models.Message, error)
	Conversation(ctx context.Context, actor models.Principal, with id.UserID) ([]*models.Message, error)
	ListNotifications(ctx context.Context, actor models.Principal, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, actor models.Principal, notificationID id.NotificationID) error
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the messaging routes. Every route requires an
// authenticated principal.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.logger))

		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/", h.HandleSendMessage)
			r.Get("/", h.HandleConversation)
			r.Get("/unread", h.HandleUnread)
			r.Patch("/{messageID}", h.HandleEditMessage)
			r.Delete("/{messageID}", h.HandleDeleteMessage)
			r.Post("/{messageID}/read", h.HandleMarkMessageRead)
			r.Get("/{messageID}/history", h.HandleMessageHistory)
		})

		r.Get("/api/notifications", h.HandleListNotifications)
		r.Post("/api/notifications/{notificationID}/read", h.HandleMarkNotificationRead)

		r.Post("/api/users", h.HandleRegisterUser)
		r.Delete("/api/users/{userID}", h.HandleDeleteUser)
	})
}

func principal(ctx context.Context) models.Principal {
	return models.Principal{ID: requestcontext.UserID(ctx), Role: requestcontext.Role(ctx)}
}

func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SendMessageRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req.Normalize()
	receiver, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	msg, err := h.svc.SendMessage(ctx, principal(ctx), receiver, req.Content)
	if err != nil {
		h.logError(ctx, "send message failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) HandleEditMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req EditMessageRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	msg, err := h.svc.EditMessage(ctx, principal(ctx), messageID, req.Content)
	if err != nil {
		h.logError(ctx, "edit message failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.DeleteMessage(ctx, principal(ctx), messageID)
	if err != nil {
		h.logError(ctx, "delete message failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	msg, err := h.svc.MarkMessageRead(ctx, principal(ctx), messageID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) HandleMessageHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.svc.MessageHistory(ctx, principal(ctx), messageID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.MessageHistory{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{MessageID: messageID.String(), History: entries})
}

func (h *Handler) HandleUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msgs, err := h.svc.UnreadForUser(ctx, principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newMessagesResponse(msgs))
}

// HandleConversation lists the caller's messages with ?with=<userID>.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	with, err := id.ParseUserID(r.URL.Query().Get("with"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	msgs, err := h.svc.Conversation(ctx, principal(ctx), with)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newMessagesResponse(msgs))
}

// HandleListNotifications accepts ?unread=true to hide read notifications.
func (h *Handler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	unreadOnly := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "bad_request",
				"error_description": "unread must be a boolean",
			})
			return
		}
		unreadOnly = parsed
	}

	out, err := h.svc.ListNotifications(ctx, principal(ctx), unreadOnly)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newNotificationsResponse(out))
}

func (h *Handler) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.svc.MarkNotificationRead(ctx, principal(ctx), notificationID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRegisterUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterUserRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req.Normalize()
	userID, role, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := h.svc.RegisterUser(ctx, principal(ctx), userID, req.Email, role)
	if err != nil {
		h.logError(ctx, "register user failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.DeleteUser(ctx, principal(ctx), userID)
	if err != nil {
		h.logError(ctx, "delete user failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx).String(),
	)
}
