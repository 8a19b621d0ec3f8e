package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

func TestNewMessage(t *testing.T) {
	now := time.Now()
	alice, bob := id.NewUserID(), id.NewUserID()

	t.Run("trims content", func(t *testing.T) {
		m, err := NewMessage(id.NewMessageID(), alice, bob, "  hi  ", now)
		require.NoError(t, err)
		assert.Equal(t, "hi", m.Content)
		assert.False(t, m.Edited)
		assert.Equal(t, now, m.UpdatedAt)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := NewMessage(id.NewMessageID(), alice, bob, " \n", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects oversized content", func(t *testing.T) {
		_, err := NewMessage(id.NewMessageID(), alice, bob, strings.Repeat("é", MaxContentLength+1), now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("requires both parties", func(t *testing.T) {
		_, err := NewMessage(id.NewMessageID(), alice, id.UserID{}, "hi", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects invalid utf-8", func(t *testing.T) {
		_, err := NewMessage(id.NewMessageID(), alice, bob, "hi \xff\xfe", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.ErrorContains(t, err, "valid UTF-8")
	})
}

func TestNormalizeContent(t *testing.T) {
	got, err := NormalizeContent("  héllo 👋 ")
	require.NoError(t, err)
	assert.Equal(t, "héllo 👋", got)

	_, err = NormalizeContent("edit \xc3\x28")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestNewUser(t *testing.T) {
	u, err := NewUser(id.NewUserID(), " Alice@Example.COM ", id.RoleHost, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = NewUser(id.NewUserID(), "nope", id.RoleHost, time.Now())
	assert.Error(t, err)

	_, err = NewUser(id.NewUserID(), "a@b.c", id.Role("root"), time.Now())
	assert.Error(t, err)
}

func TestParticipants(t *testing.T) {
	alice, bob := id.NewUserID(), id.NewUserID()
	m := &Message{SenderID: alice, ReceiverID: bob}
	assert.Equal(t, []id.UserID{alice, bob}, m.Participants())
	assert.True(t, m.IsParticipant(bob))
	assert.False(t, m.IsParticipant(id.NewUserID()))

	self := &Message{SenderID: alice, ReceiverID: alice}
	assert.Len(t, self.Participants(), 1)
}

func TestCloneIsDeep(t *testing.T) {
	editor := id.NewUserID()
	m := &Message{Content: "a", EditedBy: &editor}
	c := m.Clone()
	*c.EditedBy = id.NewUserID()
	assert.Equal(t, editor, *m.EditedBy)

	h := &MessageHistory{Participants: []id.UserID{editor}}
	hc := h.Clone()
	hc.Participants[0] = id.NewUserID()
	assert.Equal(t, editor, h.Participants[0])
}

func TestReferenceMatches(t *testing.T) {
	alice := id.NewUserID()
	msg := id.NewMessageID()

	assert.True(t, Reference{UserID: alice}.Matches(id.NewMessageID(), alice))
	assert.True(t, Reference{MessageIDs: []id.MessageID{msg}}.Matches(msg, id.NewUserID()))
	assert.False(t, Reference{MessageIDs: []id.MessageID{msg}}.Matches(id.NewMessageID(), id.UserID{}))
	assert.False(t, Reference{}.Matches(msg, id.UserID{}), "nil user never matches nil references")
}
