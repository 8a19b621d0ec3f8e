package handler

import (
	"strings"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Normalize trims surrounding whitespace from the receiver.
func (r *SendMessageRequest) Normalize() {
	r.ReceiverID = strings.TrimSpace(r.ReceiverID)
}

func (r *SendMessageRequest) Validate() (id.UserID, error) {
	if r.ReceiverID == "" {
		return id.UserID{}, dErrors.New(dErrors.CodeValidation, "receiver_id is required")
	}
	return id.ParseUserID(r.ReceiverID)
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type RegisterUserRequest struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (r *RegisterUserRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = string(id.RoleGuest)
	}
}

// Validate parses the optional ID and the role. Email rules live on the model.
func (r *RegisterUserRequest) Validate() (id.UserID, id.Role, error) {
	var userID id.UserID
	if r.ID != "" {
		parsed, err := id.ParseUserID(r.ID)
		if err != nil {
			return id.UserID{}, "", err
		}
		userID = parsed
	}
	role, err := id.ParseRole(r.Role)
	if err != nil {
		return id.UserID{}, "", err
	}
	return userID, role, nil
}
