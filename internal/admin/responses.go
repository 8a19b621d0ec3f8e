package admin

import audit "parley/pkg/platform/audit"

// AuditEventsResponse wraps recent audit events, newest first.
type AuditEventsResponse struct {
	Events []audit.Event `json:"events"`
	Total  int           `json:"total"`
}

// RateLimitResetResponse echoes the bucket that was cleared.
type RateLimitResetResponse struct {
	Key string `json:"key"`
}

// RateLimitUsageResponse describes a client's current window.
type RateLimitUsageResponse struct {
	Key           string `json:"key"`
	Count         int    `json:"count"`
	Limit         int    `json:"limit"`
	Remaining     int    `json:"remaining"`
	WindowSeconds int    `json:"window_seconds"`
}
