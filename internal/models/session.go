package models

import "time"

// Session is an authenticated, time-bounded connection context for one client.
// A client may hold many concurrent sessions; a session belongs to exactly one
// client. Liveness is tracked separately from the absolute TTL: the session
// dies when either expires.
type Session struct {
	Token          string    `json:"token"`
	ClientID       string    `json:"clientId"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastLivenessAt time.Time `json:"lastLivenessAt"`
}

// Expired reports whether the absolute TTL has passed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
