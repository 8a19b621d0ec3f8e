package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
	"parley/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var (
	_ ports.Store   = (*PostgresStore)(nil)
	_ ports.StoreTx = (*PostgresStore)(nil)
)

// PostgresStore persists users, messages, history and notifications in
// PostgreSQL. Methods join the transaction carried by ctx when one exists.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

type PostgresOption func(*PostgresStore)

func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, txTimeout: DefaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables and indexes when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply messaging schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(txCtx context.Context, store ports.Store) error) error {
	if _, ok := tx.From(ctx); ok {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", sentinel.ErrUnavailable, err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx), s); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", sentinel.ErrAborted, mapError(err))
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context) tx.Executor {
	return tx.ExecutorFrom(ctx, s.db)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO users (id, email, role, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(user.ID), user.Email, string(user.Role), user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	var (
		u    models.User
		uid  uuid.UUID
		role string
	)
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT id, email, role, created_at FROM users WHERE id = $1`, uuid.UUID(userID)).
		Scan(&uid, &u.Email, &role, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", mapError(err))
	}
	u.ID = id.UserID(uid)
	u.Role = id.Role(role)
	return &u, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID id.UserID) error {
	res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("delete user: %w", mapError(err))
	}
	return requireAffected(res, "delete user")
}

const messageColumns = `id, sender_id, receiver_id, content, edited, edited_by, read, delivered, created_at, updated_at`

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(msg.ID), uuid.UUID(msg.SenderID), uuid.UUID(msg.ReceiverID), msg.Content,
		msg.Edited, nullUserID(msg.EditedBy), msg.Read, msg.Delivered, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) FindMessage(ctx context.Context, messageID id.MessageID) (*models.Message, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, uuid.UUID(messageID))
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("find message: %w", mapError(err))
	}
	return msg, nil
}

func (s *PostgresStore) FindMessageForUpdate(ctx context.Context, messageID id.MessageID) (*models.Message, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, uuid.UUID(messageID))
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("find message for update: %w", mapError(err))
	}
	return msg, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE messages SET content = $2, edited = $3, edited_by = $4, read = $5, delivered = $6, updated_at = $7 WHERE id = $1`,
		uuid.UUID(msg.ID), msg.Content, msg.Edited, nullUserID(msg.EditedBy), msg.Read, msg.Delivered, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update message: %w", mapError(err))
	}
	return requireAffected(res, "update message")
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID id.MessageID) error {
	res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, uuid.UUID(messageID))
	if err != nil {
		return fmt.Errorf("delete message: %w", mapError(err))
	}
	return requireAffected(res, "delete message")
}

func (s *PostgresStore) ListUnread(ctx context.Context, receiver id.UserID) ([]*models.Message, error) {
	return s.listMessages(ctx, "list unread",
		`SELECT `+messageColumns+` FROM messages WHERE receiver_id = $1 AND NOT read ORDER BY created_at, id`,
		uuid.UUID(receiver))
}

func (s *PostgresStore) ListConversation(ctx context.Context, a, b id.UserID) ([]*models.Message, error) {
	return s.listMessages(ctx, "list conversation",
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at, id`,
		uuid.UUID(a), uuid.UUID(b))
}

func (s *PostgresStore) listMessages(ctx context.Context, op, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return out, nil
}

func (s *PostgresStore) DeleteMessagesByParticipant(ctx context.Context, userID id.UserID) ([]id.MessageID, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`DELETE FROM messages WHERE sender_id = $1 OR receiver_id = $1 RETURNING id`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("delete messages by participant: %w", mapError(err))
	}
	defer rows.Close()

	var removed []id.MessageID
	for rows.Next() {
		var mid uuid.UUID
		if err := rows.Scan(&mid); err != nil {
			return nil, fmt.Errorf("scan deleted message id: %w", err)
		}
		removed = append(removed, id.MessageID(mid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete messages by participant: %w", mapError(err))
	}
	return removed, nil
}

func (s *PostgresStore) CreateHistory(ctx context.Context, entry *models.MessageHistory) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO message_history (id, message_id, old_content, new_content, participants, edited_by, created_at)
		 VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7)`,
		uuid.UUID(entry.ID), uuid.UUID(entry.MessageID), entry.OldContent, entry.NewContent,
		pq.Array(userIDStrings(entry.Participants)), uuid.UUID(entry.EditedBy), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create history: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, messageID id.MessageID) ([]*models.MessageHistory, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT id, message_id, old_content, new_content, participants, edited_by, created_at
		 FROM message_history WHERE message_id = $1 ORDER BY created_at, id`, uuid.UUID(messageID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", mapError(err))
	}
	defer rows.Close()

	var out []*models.MessageHistory
	for rows.Next() {
		var (
			h            models.MessageHistory
			hid, mid, by uuid.UUID
			participants pq.StringArray
		)
		if err := rows.Scan(&hid, &mid, &h.OldContent, &h.NewContent, &participants, &by, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ID = id.HistoryID(hid)
		h.MessageID = id.MessageID(mid)
		h.EditedBy = id.UserID(by)
		for _, p := range participants {
			pid, err := uuid.Parse(p)
			if err != nil {
				return nil, fmt.Errorf("parse history participant: %w", err)
			}
			h.Participants = append(h.Participants, id.UserID(pid))
		}
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", mapError(err))
	}
	return out, nil
}

func (s *PostgresStore) DeleteHistoryReferencing(ctx context.Context, ref models.Reference) (int, error) {
	res, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM message_history WHERE message_id = ANY($1::uuid[]) OR $2::uuid = ANY(participants)`,
		pq.Array(messageIDStrings(ref.MessageIDs)), nullableUser(ref.UserID))
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete history rows affected: %w", err)
	}
	return int(n), nil
}

const notificationColumns = `id, recipient_id, actor_id, message_id, read, created_at`

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(n.ID), uuid.UUID(n.RecipientID), uuid.UUID(n.ActorID), uuid.UUID(n.MessageID), n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) FindNotification(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, uuid.UUID(notificationID))
	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", mapError(err))
	}
	return n, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID id.NotificationID) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1`, uuid.UUID(notificationID))
	if err != nil {
		return fmt.Errorf("mark notification read: %w", mapError(err))
	}
	return requireAffected(res, "mark notification read")
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE recipient_id = $1 AND (NOT $2::boolean OR NOT read) ORDER BY created_at, id`,
		uuid.UUID(recipient), unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", mapError(err))
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", mapError(err))
	}
	return out, nil
}

func (s *PostgresStore) DeleteNotificationsReferencing(ctx context.Context, ref models.Reference) (int, error) {
	res, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM notifications WHERE message_id = ANY($1::uuid[]) OR recipient_id = $2::uuid OR actor_id = $2::uuid`,
		pq.Array(messageIDStrings(ref.MessageIDs)), nullableUser(ref.UserID))
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete notifications rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg                   models.Message
		mid, sender, receiver uuid.UUID
		editedBy              uuid.NullUUID
	)
	if err := row.Scan(&mid, &sender, &receiver, &msg.Content, &msg.Edited, &editedBy,
		&msg.Read, &msg.Delivered, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	msg.ID = id.MessageID(mid)
	msg.SenderID = id.UserID(sender)
	msg.ReceiverID = id.UserID(receiver)
	if editedBy.Valid {
		editor := id.UserID(editedBy.UUID)
		msg.EditedBy = &editor
	}
	return &msg, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                          models.Notification
		nid, recipient, actor, mid uuid.UUID
	)
	if err := row.Scan(&nid, &recipient, &actor, &mid, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.ID = id.NotificationID(nid)
	n.RecipientID = id.UserID(recipient)
	n.ActorID = id.UserID(actor)
	n.MessageID = id.MessageID(mid)
	return &n, nil
}

// mapError translates driver errors into sentinel errors, keeping the cause.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%w: %s", sentinel.ErrNotFound, pqErr.Constraint)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func nullableUser(u id.UserID) uuid.NullUUID {
	if u.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(u), Valid: true}
}

func userIDStrings(ids []id.UserID) []string {
	out := make([]string, len(ids))
	for i, u := range ids {
		out[i] = u.String()
	}
	return out
}

func messageIDStrings(ids []id.MessageID) []string {
	out := make([]string, len(ids))
	for i, m := range ids {
		out[i] = m.String()
	}
	return out
}
