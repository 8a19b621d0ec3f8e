// Package ports defines the storage and delivery boundaries of the messaging
// module. Both store implementations satisfy Store and StoreTx.
package ports

import (
	"context"

	"parley/internal/messaging/models"
	id "parley/pkg/domain"
)

// UserStore persists principals. CreateUser returns sentinel.ErrConflict on a
// duplicate email; lookups return sentinel.ErrNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUser(ctx context.Context, userID id.UserID) (*models.User, error)
	DeleteUser(ctx context.Context, userID id.UserID) error
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessage(ctx context.Context, messageID id.MessageID) (*models.Message, error)
	// FindMessageForUpdate locks the row for the rest of the transaction.
	FindMessageForUpdate(ctx context.Context, messageID id.MessageID) (*models.Message, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, messageID id.MessageID) error
	// ListUnread returns unread messages addressed to receiver, oldest first.
	ListUnread(ctx context.Context, receiver id.UserID) ([]*models.Message, error)
	// ListConversation returns messages exchanged between a and b in either
	// direction, oldest first.
	ListConversation(ctx context.Context, a, b id.UserID) ([]*models.Message, error)
	// DeleteMessagesByParticipant removes messages the user sent or received
	// and returns their IDs.
	DeleteMessagesByParticipant(ctx context.Context, userID id.UserID) ([]id.MessageID, error)
}

// HistoryStore persists message edit history.
type HistoryStore interface {
	CreateHistory(ctx context.Context, entry *models.MessageHistory) error
	ListHistory(ctx context.Context, messageID id.MessageID) ([]*models.MessageHistory, error)
	// DeleteHistoryReferencing removes entries listing ref.UserID as a
	// participant or documenting one of ref.MessageIDs.
	DeleteHistoryReferencing(ctx context.Context, ref models.Reference) (int, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	FindNotification(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID id.NotificationID) error
	ListNotifications(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error)
	// DeleteNotificationsReferencing removes notifications whose recipient or
	// actor is ref.UserID or whose message is one of ref.MessageIDs.
	DeleteNotificationsReferencing(ctx context.Context, ref models.Reference) (int, error)
}

// Store is the full record store seen inside and outside transactions.
type Store interface {
	UserStore
	MessageStore
	HistoryStore
	NotificationStore
}

// StoreTx provides a transactional boundary for store mutations. The store
// passed to fn, used with txCtx, sees and writes only the transaction's view;
// a non-nil return rolls everything back.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context, store Store) error) error
}

// NotificationPublisher delivers committed notifications out of process.
type NotificationPublisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}
