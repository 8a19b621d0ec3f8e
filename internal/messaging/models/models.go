package models

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

// MaxContentLength bounds message bodies, in runes.
const MaxContentLength = 4096

// Principal is the authenticated caller of a service operation.
type Principal struct {
	ID   id.UserID
	Role id.Role
}

// User is a registered account. Messages, notifications and history rows
// reference it and are removed with it.
type User struct {
	ID        id.UserID `json:"id"`
	Email     string    `json:"email"`
	Role      id.Role   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUser(userID id.UserID, email string, role id.Role, now time.Time) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid role")
	}
	return &User{ID: userID, Email: email, Role: role, CreatedAt: now}, nil
}

// Message is a direct message from Sender to Receiver.
type Message struct {
	ID         id.MessageID `json:"id"`
	SenderID   id.UserID    `json:"sender_id"`
	ReceiverID id.UserID    `json:"receiver_id"`
	Content    string       `json:"content"`
	Edited     bool         `json:"edited"`
	EditedBy   *id.UserID   `json:"edited_by,omitempty"`
	Read       bool         `json:"read"`
	Delivered  bool         `json:"delivered"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func NewMessage(messageID id.MessageID, sender, receiver id.UserID, content string, now time.Time) (*Message, error) {
	if sender.IsNil() || receiver.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "sender and receiver are required")
	}
	content, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:         messageID,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NormalizeContent trims surrounding whitespace and enforces bounds. Content
// must be valid UTF-8.
func NormalizeContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", dErrors.New(dErrors.CodeValidation, "content must be valid UTF-8")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", dErrors.New(dErrors.CodeValidation, "content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", dErrors.New(dErrors.CodeValidation, "content is too long")
	}
	return content, nil
}

// IsParticipant reports whether userID sent or received the message.
func (m *Message) IsParticipant(userID id.UserID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Participants returns sender then receiver, without duplicates.
func (m *Message) Participants() []id.UserID {
	if m.SenderID == m.ReceiverID {
		return []id.UserID{m.SenderID}
	}
	return []id.UserID{m.SenderID, m.ReceiverID}
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	if m.EditedBy != nil {
		editor := *m.EditedBy
		c.EditedBy = &editor
	}
	return &c
}

// MessageHistory preserves one content change of a message.
type MessageHistory struct {
	ID           id.HistoryID `json:"id"`
	MessageID    id.MessageID `json:"message_id"`
	OldContent   string       `json:"old_content"`
	NewContent   string       `json:"new_content"`
	Participants []id.UserID  `json:"participants"`
	EditedBy     id.UserID    `json:"edited_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HasParticipant reports whether userID is listed on the entry.
func (h *MessageHistory) HasParticipant(userID id.UserID) bool {
	return slices.Contains(h.Participants, userID)
}

func (h *MessageHistory) Clone() *MessageHistory {
	c := *h
	c.Participants = slices.Clone(h.Participants)
	return &c
}

// Notification tells Recipient that Actor sent them a message.
type Notification struct {
	ID          id.NotificationID `json:"id"`
	RecipientID id.UserID         `json:"recipient_id"`
	ActorID     id.UserID         `json:"actor_id"`
	MessageID   id.MessageID      `json:"message_id"`
	Read        bool              `json:"read"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Reference selects rows tied to a user, to any of a set of messages, or to
// both. A nil UserID matches no user.
type Reference struct {
	UserID     id.UserID
	MessageIDs []id.MessageID
}

// Matches reports whether a row with the given user references and message
// falls under r.
func (r Reference) Matches(messageID id.MessageID, users ...id.UserID) bool {
	if slices.Contains(r.MessageIDs, messageID) {
		return true
	}
	if r.UserID.IsNil() {
		return false
	}
	return slices.Contains(users, r.UserID)
}

// CascadeResult counts what a user deletion removed.
type CascadeResult struct {
	UserID        id.UserID `json:"user_id"`
	Messages      int       `json:"messages_deleted"`
	Notifications int       `json:"notifications_deleted"`
	History       int       `json:"history_deleted"`
}
