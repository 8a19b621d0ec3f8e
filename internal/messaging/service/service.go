package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	msgmetrics "parley/internal/messaging/metrics"
	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/audit"
	"parley/pkg/platform/sentinel"
	"parley/pkg/requestcontext"
)

const tracerName = "parley/internal/messaging"

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates message, notification and account operations. Every
// write runs in one store transaction together with its hooks.
type Service struct {
	store        ports.Store
	tx           ports.StoreTx
	beforeUpdate []BeforeUpdateHook
	afterCreate  []AfterCreateHook
	cascade      *CascadeDeleter

	publisher      ports.NotificationPublisher
	logger         *slog.Logger
	metrics        *msgmetrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *msgmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithPublisher delivers committed notifications out of process.
func WithPublisher(publisher ports.NotificationPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithBeforeUpdateHook appends a hook after the built-in history auditor.
func WithBeforeUpdateHook(h BeforeUpdateHook) Option {
	return func(s *Service) {
		s.beforeUpdate = append(s.beforeUpdate, h)
	}
}

// WithAfterCreateHook appends a hook after the built-in notification
// dispatcher.
func WithAfterCreateHook(h AfterCreateHook) Option {
	return func(s *Service) {
		s.afterCreate = append(s.afterCreate, h)
	}
}

// New constructs a Service. store serves reads outside transactions; tx opens
// the transactions writes and hooks run in.
func New(store ports.Store, tx ports.StoreTx, opts ...Option) *Service {
	s := &Service{store: store, tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.beforeUpdate = append([]BeforeUpdateHook{NewMutationAuditor(s.logger, s.metrics)}, s.beforeUpdate...)
	s.afterCreate = append([]AfterCreateHook{NewNotificationDispatcher(s.publisher, s.logger, s.metrics)}, s.afterCreate...)
	s.cascade = NewCascadeDeleter(s.metrics)
	return s
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// RegisterUser stores a principal. Only admins register accounts; a nil
// userID gets a fresh one.
func (s *Service) RegisterUser(ctx context.Context, actor models.Principal, userID id.UserID, email string, role id.Role) (user *models.User, err error) {
	ctx, end := s.startSpan(ctx, "RegisterUser", attribute.String("role", role.String()))
	defer func() { end(err) }()

	if actor.Role != id.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may register users")
	}
	if userID.IsNil() {
		userID = id.NewUserID()
	}
	user, err = models.NewUser(userID, email, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, translate(err, "user not found", "email or id already registered")
	}

	event := audit.NewEvent(audit.EventUserRegistered, user.CreatedAt)
	event.UserID = user.ID
	event.Email = user.Email
	event.ActorID = actor.ID.String()
	s.emitAudit(ctx, event)
	return user, nil
}

// DeleteUser removes an account and everything referencing it. Users may
// delete themselves; admins may delete anyone.
func (s *Service) DeleteUser(ctx context.Context, actor models.Principal, userID id.UserID) (result *models.CascadeResult, err error) {
	ctx, end := s.startSpan(ctx, "DeleteUser", attribute.String("user_id", userID.String()))
	defer func() { end(err) }()

	if actor.ID != userID && actor.Role != id.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to delete this user")
	}

	var deleted *models.User
	err = s.write(ctx, actor, func(txCtx context.Context, sc *Scope) error {
		user, err := sc.Store.FindUser(txCtx, userID)
		if err != nil {
			return translate(err, "user not found", "")
		}
		result, err = s.cascade.DeleteUser(txCtx, sc.Store, userID)
		if err != nil {
			return translate(err, "user not found", "")
		}
		deleted = user
		sc.OnCommit(func(context.Context) {
			s.cascade.record(result)
			s.metrics.IncrementMutation(msgmetrics.MutationCascade)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user deleted",
		"user_id", userID.String(),
		"actor_id", actor.ID.String(),
		"messages_deleted", result.Messages,
		"notifications_deleted", result.Notifications,
		"history_deleted", result.History,
	)
	event := audit.NewEvent(audit.EventUserDeleted, requestcontext.Now(ctx))
	event.UserID = userID
	event.Email = deleted.Email
	event.ActorID = actor.ID.String()
	if actor.ID == userID {
		event.Reason = "self_service"
	} else {
		event.Reason = "admin"
	}
	s.emitAudit(ctx, event)
	return result, nil
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// SendMessage creates a message from sender to receiver and notifies the
// receiver.
func (s *Service) SendMessage(ctx context.Context, sender models.Principal, receiver id.UserID, content string) (msg *models.Message, err error) {
	ctx, end := s.startSpan(ctx, "SendMessage")
	defer func() { end(err) }()

	if receiver.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "receiver is required")
	}

	err = s.write(ctx, sender, func(txCtx context.Context, sc *Scope) error {
		m, err := models.NewMessage(id.NewMessageID(), sender.ID, receiver, content, sc.Now)
		if err != nil {
			return err
		}
		if _, err := sc.Store.FindUser(txCtx, sender.ID); err != nil {
			return translate(err, "sender is not registered", "")
		}
		if _, err := sc.Store.FindUser(txCtx, receiver); err != nil {
			return translate(err, "receiver not found", "")
		}
		if err := sc.Store.CreateMessage(txCtx, m); err != nil {
			return translate(err, "receiver not found", "message already exists")
		}
		for _, hook := range s.afterCreate {
			if err := hook.AfterCreate(txCtx, sc, m); err != nil {
				return translate(err, "message not found", "")
			}
		}
		sc.OnCommit(func(context.Context) { s.metrics.IncrementMutation(msgmetrics.MutationCreate) })
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// EditMessage replaces a message's content. Only the author may edit.
func (s *Service) EditMessage(ctx context.Context, actor models.Principal, messageID id.MessageID, content string) (msg *models.Message, err error) {
	ctx, end := s.startSpan(ctx, "EditMessage", attribute.String("message_id", messageID.String()))
	defer func() { end(err) }()

	content, err = models.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	err = s.write(ctx, actor, func(txCtx context.Context, sc *Scope) error {
		persisted, err := sc.Store.FindMessageForUpdate(txCtx, messageID)
		if err != nil {
			return translate(err, "message not found", "")
		}
		if persisted.SenderID != actor.ID {
			return dErrors.New(dErrors.CodeForbidden, "only the author may edit a message")
		}
		proposed := persisted.Clone()
		proposed.Content = content
		msg, err = s.update(txCtx, sc, persisted, proposed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkMessageRead marks a message read and delivered. Only the receiver may
// do so.
func (s *Service) MarkMessageRead(ctx context.Context, actor models.Principal, messageID id.MessageID) (msg *models.Message, err error) {
	ctx, end := s.startSpan(ctx, "MarkMessageRead", attribute.String("message_id", messageID.String()))
	defer func() { end(err) }()

	err = s.write(ctx, actor, func(txCtx context.Context, sc *Scope) error {
		persisted, err := sc.Store.FindMessageForUpdate(txCtx, messageID)
		if err != nil {
			return translate(err, "message not found", "")
		}
		if persisted.ReceiverID != actor.ID {
			return dErrors.New(dErrors.CodeForbidden, "only the receiver may mark a message read")
		}
		if persisted.Read {
			msg = persisted
			return nil
		}
		proposed := persisted.Clone()
		proposed.Read = true
		proposed.Delivered = true
		msg, err = s.update(txCtx, sc, persisted, proposed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// update runs the before-update hooks and writes proposed.
func (s *Service) update(ctx context.Context, sc *Scope, persisted, proposed *models.Message) (*models.Message, error) {
	for _, hook := range s.beforeUpdate {
		if err := hook.BeforeUpdate(ctx, sc, persisted, proposed); err != nil {
			return nil, translate(err, "message not found", "")
		}
	}
	proposed.UpdatedAt = sc.Now
	if err := sc.Store.UpdateMessage(ctx, proposed); err != nil {
		return nil, translate(err, "message not found", "")
	}
	sc.OnCommit(func(context.Context) { s.metrics.IncrementMutation(msgmetrics.MutationUpdate) })
	return proposed, nil
}

// DeleteMessage removes a message with its notifications and history. The
// author and staff may delete.
func (s *Service) DeleteMessage(ctx context.Context, actor models.Principal, messageID id.MessageID) (result *models.CascadeResult, err error) {
	ctx, end := s.startSpan(ctx, "DeleteMessage", attribute.String("message_id", messageID.String()))
	defer func() { end(err) }()

	err = s.write(ctx, actor, func(txCtx context.Context, sc *Scope) error {
		persisted, err := sc.Store.FindMessageForUpdate(txCtx, messageID)
		if err != nil {
			return translate(err, "message not found", "")
		}
		if persisted.SenderID != actor.ID && !actor.Role.IsStaff() {
			return dErrors.New(dErrors.CodeForbidden, "not authorized to delete this message")
		}
		result, err = s.cascade.DeleteMessage(txCtx, sc.Store, messageID)
		if err != nil {
			return translate(err, "message not found", "")
		}
		result.UserID = persisted.SenderID
		sc.OnCommit(func(context.Context) {
			s.cascade.record(result)
			s.metrics.IncrementMutation(msgmetrics.MutationDelete)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(audit.EventMessageDeleted, requestcontext.Now(ctx))
	event.UserID = result.UserID
	event.Subject = messageID.String()
	event.ActorID = actor.ID.String()
	s.emitAudit(ctx, event)
	return result, nil
}

// MessageHistory lists a message's edits, oldest first. Only participants may
// read it.
func (s *Service) MessageHistory(ctx context.Context, actor models.Principal, messageID id.MessageID) (entries []*models.MessageHistory, err error) {
	ctx, end := s.startSpan(ctx, "MessageHistory", attribute.String("message_id", messageID.String()))
	defer func() { end(err) }()

	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return nil, translate(err, "message not found", "")
	}
	if !msg.IsParticipant(actor.ID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only participants may read message history")
	}
	entries, err = s.store.ListHistory(ctx, messageID)
	if err != nil {
		return nil, translate(err, "message not found", "")
	}
	return entries, nil
}

// UnreadForUser lists unread messages addressed to the actor, oldest first.
func (s *Service) UnreadForUser(ctx context.Context, actor models.Principal) (msgs []*models.Message, err error) {
	ctx, end := s.startSpan(ctx, "UnreadForUser")
	defer func() { end(err) }()

	msgs, err = s.store.ListUnread(ctx, actor.ID)
	if err != nil {
		return nil, translate(err, "user not found", "")
	}
	return msgs, nil
}

// Conversation lists the messages between the actor and with, oldest first.
// The actor is always one of the two parties.
func (s *Service) Conversation(ctx context.Context, actor models.Principal, with id.UserID) (msgs []*models.Message, err error) {
	ctx, end := s.startSpan(ctx, "Conversation", attribute.String("with", with.String()))
	defer func() { end(err) }()

	if with.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "conversation partner is required")
	}
	msgs, err = s.store.ListConversation(ctx, actor.ID, with)
	if err != nil {
		return nil, translate(err, "user not found", "")
	}
	return msgs, nil
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

func (s *Service) ListNotifications(ctx context.Context, actor models.Principal, unreadOnly bool) (out []*models.Notification, err error) {
	ctx, end := s.startSpan(ctx, "ListNotifications", attribute.Bool("unread_only", unreadOnly))
	defer func() { end(err) }()

	out, err = s.store.ListNotifications(ctx, actor.ID, unreadOnly)
	if err != nil {
		return nil, translate(err, "user not found", "")
	}
	return out, nil
}

// MarkNotificationRead marks one of the actor's notifications read.
func (s *Service) MarkNotificationRead(ctx context.Context, actor models.Principal, notificationID id.NotificationID) (err error) {
	ctx, end := s.startSpan(ctx, "MarkNotificationRead", attribute.String("notification_id", notificationID.String()))
	defer func() { end(err) }()

	return s.write(ctx, actor, func(txCtx context.Context, sc *Scope) error {
		n, err := sc.Store.FindNotification(txCtx, notificationID)
		if err != nil {
			return translate(err, "notification not found", "")
		}
		if n.RecipientID != actor.ID {
			// Someone else's notification is reported as missing.
			return dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		if n.Read {
			return nil
		}
		return translate(sc.Store.MarkNotificationRead(txCtx, notificationID), "notification not found", "")
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// write runs fn in a transaction and, once it commits, the callbacks hooks
// registered on the scope.
func (s *Service) write(ctx context.Context, actor models.Principal, fn func(txCtx context.Context, sc *Scope) error) error {
	var sc *Scope
	err := s.tx.RunInTx(ctx, func(txCtx context.Context, store ports.Store) error {
		sc = newScope(store, actor, requestcontext.Now(ctx))
		return fn(txCtx, sc)
	})
	if err != nil {
		return translate(err, "record not found", "")
	}
	sc.runCommitted(ctx)
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.IP = requestcontext.ClientIP(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "messaging."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// translate maps store errors to domain errors. Errors that already carry a
// code pass through.
func translate(err error, notFound, conflict string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrAborted):
		return dErrors.Wrap(err, dErrors.CodeInternal, "transaction aborted")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrConflict):
		if conflict == "" {
			conflict = "conflicting write"
		}
		return dErrors.New(dErrors.CodeConflict, conflict)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "record store error")
	}
}
