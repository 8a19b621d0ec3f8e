package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	msgmetrics "parley/internal/messaging/metrics"
	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	id "parley/pkg/domain"
)

const defaultPublishTimeout = 5 * time.Second

// NotificationDispatcher creates one notification for the receiver of every
// new message, in the create transaction. After commit the notification is
// handed to the publisher, if any. Publish failures are logged and counted;
// the message stays committed.
type NotificationDispatcher struct {
	publisher      ports.NotificationPublisher
	logger         *slog.Logger
	metrics        *msgmetrics.Metrics
	publishTimeout time.Duration
}

func NewNotificationDispatcher(publisher ports.NotificationPublisher, logger *slog.Logger, m *msgmetrics.Metrics) *NotificationDispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NotificationDispatcher{
		publisher:      publisher,
		logger:         logger,
		metrics:        m,
		publishTimeout: defaultPublishTimeout,
	}
}

func (d *NotificationDispatcher) AfterCreate(ctx context.Context, sc *Scope, msg *models.Message) error {
	n := &models.Notification{
		ID:          id.NewNotificationID(),
		RecipientID: msg.ReceiverID,
		ActorID:     msg.SenderID,
		MessageID:   msg.ID,
		CreatedAt:   sc.Now,
	}
	if err := sc.Store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	sc.OnCommit(func(ctx context.Context) {
		d.metrics.IncrementNotifications()
		d.publish(ctx, n)
	})
	return nil
}

func (d *NotificationDispatcher) publish(ctx context.Context, n *models.Notification) {
	if d.publisher == nil {
		return
	}
	// The request may finish before the broker answers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, n); err != nil {
		d.metrics.IncrementPublishFailures()
		d.logger.WarnContext(ctx, "notification publish failed",
			"notification_id", n.ID.String(),
			"recipient_id", n.RecipientID.String(),
			"error", err,
		)
	}
}
