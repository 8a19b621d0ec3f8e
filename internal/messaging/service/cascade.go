package service

import (
	"context"
	"fmt"

	msgmetrics "parley/internal/messaging/metrics"
	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	id "parley/pkg/domain"
)

// CascadeDeleter removes a user or a message together with every row that
// references it. Callers run it inside one transaction so the removal is
// all-or-nothing.
type CascadeDeleter struct {
	metrics *msgmetrics.Metrics
}

func NewCascadeDeleter(m *msgmetrics.Metrics) *CascadeDeleter {
	return &CascadeDeleter{metrics: m}
}

// DeleteUser removes the user's sent and received messages, every
// notification the user is party to or that points at a removed message,
// every history entry listing the user or documenting a removed message, and
// finally the user.
func (c *CascadeDeleter) DeleteUser(ctx context.Context, store ports.Store, userID id.UserID) (*models.CascadeResult, error) {
	removed, err := store.DeleteMessagesByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}

	ref := models.Reference{UserID: userID, MessageIDs: removed}
	result, err := c.deleteReferencing(ctx, store, ref)
	if err != nil {
		return nil, err
	}
	result.UserID = userID
	result.Messages = len(removed)

	if err := store.DeleteUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("delete user: %w", err)
	}
	return result, nil
}

// DeleteMessage removes one message with its notifications and history.
func (c *CascadeDeleter) DeleteMessage(ctx context.Context, store ports.Store, messageID id.MessageID) (*models.CascadeResult, error) {
	result, err := c.deleteReferencing(ctx, store, models.Reference{MessageIDs: []id.MessageID{messageID}})
	if err != nil {
		return nil, err
	}
	if err := store.DeleteMessage(ctx, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	result.Messages = 1
	return result, nil
}

func (c *CascadeDeleter) deleteReferencing(ctx context.Context, store ports.Store, ref models.Reference) (*models.CascadeResult, error) {
	notifications, err := store.DeleteNotificationsReferencing(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("delete notifications: %w", err)
	}
	history, err := store.DeleteHistoryReferencing(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("delete history: %w", err)
	}
	return &models.CascadeResult{Notifications: notifications, History: history}, nil
}

func (c *CascadeDeleter) record(result *models.CascadeResult) {
	c.metrics.AddCascadeRows("messages", result.Messages)
	c.metrics.AddCascadeRows("notifications", result.Notifications)
	c.metrics.AddCascadeRows("message_history", result.History)
}
