package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
)

// DefaultTxTimeout is the maximum duration of a transaction that arrives
// without a deadline.
const DefaultTxTimeout = 5 * time.Second

var (
	_ ports.Store   = (*InMemoryStore)(nil)
	_ ports.StoreTx = (*InMemoryStore)(nil)
	_ ports.Store   = (*memState)(nil)
)

// InMemoryStore keeps every record in process memory. Transactions take the
// store lock, work on a copy of the state and swap it in on success, so a
// failed callback leaves no trace.
//
// Inside RunInTx use only the store handed to the callback; calling the
// outer store deadlocks.
type InMemoryStore struct {
	mu        sync.RWMutex
	state     *memState
	txTimeout time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: newMemState(), txTimeout: DefaultTxTimeout}
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(txCtx context.Context, store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	working := s.state.clone()
	if err := fn(ctx, working); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(sentinel.ErrAborted, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	s.state = working
	return nil
}

func (s *InMemoryStore) read(fn func(st *memState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *InMemoryStore) write(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.write(func(st *memState) error { return st.CreateUser(ctx, user) })
}

func (s *InMemoryStore) FindUser(ctx context.Context, userID id.UserID) (user *models.User, err error) {
	err = s.read(func(st *memState) error {
		user, err = st.FindUser(ctx, userID)
		return err
	})
	return user, err
}

func (s *InMemoryStore) DeleteUser(ctx context.Context, userID id.UserID) error {
	return s.write(func(st *memState) error { return st.DeleteUser(ctx, userID) })
}

func (s *InMemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.write(func(st *memState) error { return st.CreateMessage(ctx, msg) })
}

func (s *InMemoryStore) FindMessage(ctx context.Context, messageID id.MessageID) (msg *models.Message, err error) {
	err = s.read(func(st *memState) error {
		msg, err = st.FindMessage(ctx, messageID)
		return err
	})
	return msg, err
}

func (s *InMemoryStore) FindMessageForUpdate(ctx context.Context, messageID id.MessageID) (*models.Message, error) {
	return s.FindMessage(ctx, messageID)
}

func (s *InMemoryStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	return s.write(func(st *memState) error { return st.UpdateMessage(ctx, msg) })
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, messageID id.MessageID) error {
	return s.write(func(st *memState) error { return st.DeleteMessage(ctx, messageID) })
}

func (s *InMemoryStore) ListUnread(ctx context.Context, receiver id.UserID) (msgs []*models.Message, err error) {
	err = s.read(func(st *memState) error {
		msgs, err = st.ListUnread(ctx, receiver)
		return err
	})
	return msgs, err
}

func (s *InMemoryStore) ListConversation(ctx context.Context, a, b id.UserID) (msgs []*models.Message, err error) {
	err = s.read(func(st *memState) error {
		msgs, err = st.ListConversation(ctx, a, b)
		return err
	})
	return msgs, err
}

func (s *InMemoryStore) DeleteMessagesByParticipant(ctx context.Context, userID id.UserID) (ids []id.MessageID, err error) {
	err = s.write(func(st *memState) error {
		ids, err = st.DeleteMessagesByParticipant(ctx, userID)
		return err
	})
	return ids, err
}

func (s *InMemoryStore) CreateHistory(ctx context.Context, entry *models.MessageHistory) error {
	return s.write(func(st *memState) error { return st.CreateHistory(ctx, entry) })
}

func (s *InMemoryStore) ListHistory(ctx context.Context, messageID id.MessageID) (entries []*models.MessageHistory, err error) {
	err = s.read(func(st *memState) error {
		entries, err = st.ListHistory(ctx, messageID)
		return err
	})
	return entries, err
}

func (s *InMemoryStore) DeleteHistoryReferencing(ctx context.Context, ref models.Reference) (n int, err error) {
	err = s.write(func(st *memState) error {
		n, err = st.DeleteHistoryReferencing(ctx, ref)
		return err
	})
	return n, err
}

func (s *InMemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.write(func(st *memState) error { return st.CreateNotification(ctx, n) })
}

func (s *InMemoryStore) FindNotification(ctx context.Context, notificationID id.NotificationID) (n *models.Notification, err error) {
	err = s.read(func(st *memState) error {
		n, err = st.FindNotification(ctx, notificationID)
		return err
	})
	return n, err
}

func (s *InMemoryStore) MarkNotificationRead(ctx context.Context, notificationID id.NotificationID) error {
	return s.write(func(st *memState) error { return st.MarkNotificationRead(ctx, notificationID) })
}

func (s *InMemoryStore) ListNotifications(ctx context.Context, recipient id.UserID, unreadOnly bool) (out []*models.Notification, err error) {
	err = s.read(func(st *memState) error {
		out, err = st.ListNotifications(ctx, recipient, unreadOnly)
		return err
	})
	return out, err
}

func (s *InMemoryStore) DeleteNotificationsReferencing(ctx context.Context, ref models.Reference) (n int, err error) {
	err = s.write(func(st *memState) error {
		n, err = st.DeleteNotificationsReferencing(ctx, ref)
		return err
	})
	return n, err
}

// memState is the unlocked record set. Records are copied on the way in and
// out so callers never alias stored values.
type memState struct {
	users         map[id.UserID]*models.User
	messages      map[id.MessageID]*models.Message
	history       []*models.MessageHistory
	notifications []*models.Notification
}

func newMemState() *memState {
	return &memState{
		users:    make(map[id.UserID]*models.User),
		messages: make(map[id.MessageID]*models.Message),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		users:         make(map[id.UserID]*models.User, len(st.users)),
		messages:      make(map[id.MessageID]*models.Message, len(st.messages)),
		history:       make([]*models.MessageHistory, 0, len(st.history)),
		notifications: make([]*models.Notification, 0, len(st.notifications)),
	}
	for k, u := range st.users {
		uc := *u
		c.users[k] = &uc
	}
	for k, m := range st.messages {
		c.messages[k] = m.Clone()
	}
	for _, h := range st.history {
		c.history = append(c.history, h.Clone())
	}
	for _, n := range st.notifications {
		nc := *n
		c.notifications = append(c.notifications, &nc)
	}
	return c
}

func (st *memState) CreateUser(_ context.Context, user *models.User) error {
	if _, ok := st.users[user.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, u := range st.users {
		if strings.EqualFold(u.Email, user.Email) {
			return sentinel.ErrConflict
		}
	}
	u := *user
	st.users[user.ID] = &u
	return nil
}

func (st *memState) FindUser(_ context.Context, userID id.UserID) (*models.User, error) {
	u, ok := st.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (st *memState) DeleteUser(_ context.Context, userID id.UserID) error {
	if _, ok := st.users[userID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(st.users, userID)
	return nil
}

func (st *memState) CreateMessage(_ context.Context, msg *models.Message) error {
	if _, ok := st.messages[msg.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := st.users[msg.SenderID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := st.users[msg.ReceiverID]; !ok {
		return sentinel.ErrNotFound
	}
	st.messages[msg.ID] = msg.Clone()
	return nil
}

func (st *memState) FindMessage(_ context.Context, messageID id.MessageID) (*models.Message, error) {
	m, ok := st.messages[messageID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return m.Clone(), nil
}

func (st *memState) FindMessageForUpdate(ctx context.Context, messageID id.MessageID) (*models.Message, error) {
	return st.FindMessage(ctx, messageID)
}

func (st *memState) UpdateMessage(_ context.Context, msg *models.Message) error {
	if _, ok := st.messages[msg.ID]; !ok {
		return sentinel.ErrNotFound
	}
	st.messages[msg.ID] = msg.Clone()
	return nil
}

func (st *memState) DeleteMessage(_ context.Context, messageID id.MessageID) error {
	if _, ok := st.messages[messageID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(st.messages, messageID)
	return nil
}

func (st *memState) ListUnread(_ context.Context, receiver id.UserID) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range st.messages {
		if m.ReceiverID == receiver && !m.Read {
			out = append(out, m.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (st *memState) ListConversation(_ context.Context, a, b id.UserID) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range st.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

// sortByCreation orders oldest first, matching ORDER BY created_at, id.
func sortByCreation(msgs []*models.Message) {
	slices.SortFunc(msgs, func(a, b *models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

func (st *memState) DeleteMessagesByParticipant(_ context.Context, userID id.UserID) ([]id.MessageID, error) {
	var removed []id.MessageID
	for k, m := range st.messages {
		if m.IsParticipant(userID) {
			removed = append(removed, k)
			delete(st.messages, k)
		}
	}
	return removed, nil
}

func (st *memState) CreateHistory(_ context.Context, entry *models.MessageHistory) error {
	if _, ok := st.messages[entry.MessageID]; !ok {
		return sentinel.ErrNotFound
	}
	st.history = append(st.history, entry.Clone())
	return nil
}

func (st *memState) ListHistory(_ context.Context, messageID id.MessageID) ([]*models.MessageHistory, error) {
	var out []*models.MessageHistory
	for _, h := range st.history {
		if h.MessageID == messageID {
			out = append(out, h.Clone())
		}
	}
	return out, nil
}

func (st *memState) DeleteHistoryReferencing(_ context.Context, ref models.Reference) (int, error) {
	before := len(st.history)
	st.history = slices.DeleteFunc(st.history, func(h *models.MessageHistory) bool {
		return ref.Matches(h.MessageID, h.Participants...)
	})
	return before - len(st.history), nil
}

func (st *memState) CreateNotification(_ context.Context, n *models.Notification) error {
	if _, ok := st.messages[n.MessageID]; !ok {
		return sentinel.ErrNotFound
	}
	c := *n
	st.notifications = append(st.notifications, &c)
	return nil
}

func (st *memState) FindNotification(_ context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	for _, n := range st.notifications {
		if n.ID == notificationID {
			c := *n
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (st *memState) MarkNotificationRead(_ context.Context, notificationID id.NotificationID) error {
	for _, n := range st.notifications {
		if n.ID == notificationID {
			n.Read = true
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (st *memState) ListNotifications(_ context.Context, recipient id.UserID, unreadOnly bool) ([]*models.Notification, error) {
	var out []*models.Notification
	for _, n := range st.notifications {
		if n.RecipientID != recipient || (unreadOnly && n.Read) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	return out, nil
}

func (st *memState) DeleteNotificationsReferencing(_ context.Context, ref models.Reference) (int, error) {
	before := len(st.notifications)
	st.notifications = slices.DeleteFunc(st.notifications, func(n *models.Notification) bool {
		return ref.Matches(n.MessageID, n.RecipientID, n.ActorID)
	})
	return before - len(st.notifications), nil
}
