package audit

import (
	"context"
	"errors"
	"log/slog"

	id "parley/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Publisher writes events to the structured log and the store.
// Emit is synchronous; no events are buffered.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records an event. The log line is always written, even if the store
// rejects the event.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"category", event.Category,
		"user_id", event.UserID.String(),
		"actor_id", event.ActorID,
		"subject", event.Subject,
		"reason", event.Reason,
		"request_id", event.RequestID,
	)
	if p.store == nil {
		return errors.New("audit store is not configured")
	}
	return p.store.Append(ctx, event)
}

// List returns a user's events in arrival order.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]Event, error) {
	return p.store.ListByUser(ctx, userID)
}

// Recent returns the newest events across all users.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}
