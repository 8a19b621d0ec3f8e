package models

import "strings"

// KeyPrefix identifies the kind of client a bucket belongs to.
type KeyPrefix string

const (
	KeyPrefixUser KeyPrefix = "user"
	KeyPrefixIP   KeyPrefix = "ip"
)

const keyNamespace = "rl"

// RateLimitKey addresses one sliding window: a client on a guarded scope.
type RateLimitKey struct {
	Prefix     KeyPrefix
	Identifier string
	Scope      string
}

// NewRateLimitKey builds a key for identifier under prefix, scoped to the
// guarded path.
func NewRateLimitKey(prefix KeyPrefix, identifier, scope string) RateLimitKey {
	return RateLimitKey{Prefix: prefix, Identifier: identifier, Scope: scope}
}

// String renders rl:<prefix>:<identifier>:<scope> with every segment
// sanitized.
func (k RateLimitKey) String() string {
	return strings.Join([]string{
		keyNamespace,
		SanitizeKeySegment(string(k.Prefix)),
		SanitizeKeySegment(k.Identifier),
		SanitizeKeySegment(k.Scope),
	}, ":")
}

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
//
// Example: an IPv6 address "::1" becomes "__1".
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
