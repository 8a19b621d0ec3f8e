package audit

import (
	"time"

	id "parley/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance,
	// e.g. account registration and deletion.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring, e.g.
	// admission rejections and rate limit hits.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	Subject   string        `json:"subject,omitempty"`
	Action    string        `json:"action"`
	Decision  string        `json:"decision,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	IP        string        `json:"ip,omitempty"`
	Email     string        `json:"email,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	// ActorID tracks who performed the action when different from UserID,
	// e.g. an admin deleting another account.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	EventUserRegistered AuditEvent = "user_registered"
	EventUserDeleted    AuditEvent = "user_deleted"

	EventMessageDeleted AuditEvent = "message_deleted"

	EventAdmissionRejected AuditEvent = "admission_rejected"
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventRateLimitReset    AuditEvent = "rate_limit_reset"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserRegistered: CategoryCompliance,
	EventUserDeleted:    CategoryCompliance,

	EventAdmissionRejected: CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,
	EventRateLimitReset:    CategorySecurity,

	EventMessageDeleted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// NewEvent stamps an event with its action and category.
func NewEvent(action AuditEvent, at time.Time) Event {
	return Event{
		Category:  action.Category(),
		Timestamp: at,
		Action:    string(action),
	}
}
