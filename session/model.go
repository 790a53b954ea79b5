// Package session keeps the refresh-session registry and the revoked
// token blacklist in Redis.
package session

import "time"

// Session is one refresh-token session. The ID is the refresh token's
// jti; presenting a refresh token whose ID is absent from the registry
// means the token was rotated, revoked or expired.
type Session struct {
	ID        string
	AccountID string
	TenantID  string

	DeviceName string
	// FingerprintHash is SHA-256 over user agent and client IP.
	FingerprintHash [32]byte

	// IssuedAt is in milliseconds so near-simultaneous sessions still
	// order deterministically for oldest-first eviction.
	IssuedAt  int64
	ExpiresAt int64
}

// Expired reports whether the session's own deadline has passed.
// Registry keys carry a matching TTL, this is a second guard against
// clock drift on the Redis side.
func (s Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}
