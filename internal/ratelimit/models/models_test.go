package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  RateLimitKey
		want string
	}{
		{"user", NewRateLimitKey(KeyPrefixUser, "u-1", "/api/messages"), "rl:user:u-1:/api/messages"},
		{"ipv6 is sanitized", NewRateLimitKey(KeyPrefixIP, "::1", "/api/messages"), "rl:ip:__1:/api/messages"},
		{"injected delimiter", NewRateLimitKey(KeyPrefixUser, "a:ip:b", "/x"), "rl:user:a_ip_b:/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, (*RateLimitResult)(nil).RetryAfterSeconds())
	assert.Equal(t, 0, (&RateLimitResult{Allowed: true, RetryAfter: time.Second}).RetryAfterSeconds())
	assert.Equal(t, 30, (&RateLimitResult{RetryAfter: 30 * time.Second}).RetryAfterSeconds())
	assert.Equal(t, 2, (&RateLimitResult{RetryAfter: 1100 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 1, (&RateLimitResult{}).RetryAfterSeconds())
}
