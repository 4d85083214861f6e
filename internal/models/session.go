package models

import "time"

// ProofSession is a Broker-issued pairing context. The ID is handed to
// clients as an opaque capability string.
type ProofSession struct {
	ID        string
	IsActive  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session window has closed at t.
func (s *ProofSession) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && t.After(s.ExpiresAt)
}

// SessionResponse is the body returned by the session-creation endpoint
type SessionResponse struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	QRURL     string    `json:"qrUrl"`
}
