package service

import (
	"context"
	"fmt"
	"log/slog"

	msgmetrics "parley/internal/messaging/metrics"
	"parley/internal/messaging/models"
	id "parley/pkg/domain"
)

// MutationAuditor keeps the edit trail of a message. A content change yields
// exactly one history entry holding the old and new text; an update that
// leaves the content alone records nothing.
type MutationAuditor struct {
	logger  *slog.Logger
	metrics *msgmetrics.Metrics
}

func NewMutationAuditor(logger *slog.Logger, m *msgmetrics.Metrics) *MutationAuditor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MutationAuditor{logger: logger, metrics: m}
}

func (a *MutationAuditor) BeforeUpdate(ctx context.Context, sc *Scope, persisted, proposed *models.Message) error {
	if persisted.Content == proposed.Content {
		return nil
	}

	entry := &models.MessageHistory{
		ID:           id.NewHistoryID(),
		MessageID:    persisted.ID,
		OldContent:   persisted.Content,
		NewContent:   proposed.Content,
		Participants: persisted.Participants(),
		EditedBy:     sc.Actor.ID,
		CreatedAt:    sc.Now,
	}
	if err := sc.Store.CreateHistory(ctx, entry); err != nil {
		return fmt.Errorf("record message history: %w", err)
	}

	editor := sc.Actor.ID
	proposed.Edited = true
	proposed.EditedBy = &editor

	sc.OnCommit(func(ctx context.Context) {
		a.metrics.IncrementHistory()
		a.logger.DebugContext(ctx, "message history recorded",
			"message_id", entry.MessageID.String(),
			"history_id", entry.ID.String(),
		)
	})
	return nil
}
