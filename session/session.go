package session

import "time"

// Status is the authentication state of the running client.
type Status string

const (
	StatusAnonymous           Status = "anonymous"
	StatusPendingVerification Status = "pending_verification"
	StatusAuthenticated       Status = "authenticated"
)

// Session is an immutable snapshot of the process-wide authentication fact.
// Views receive Session values and never construct them.
type Session struct {
	Status          Status    // Current authentication status
	UserID          string    // Set iff Status is authenticated or pending_verification
	DisplayIdentity string    // Email as typed, or the provider's display name
	IssuedAt        time.Time // When this identity was established
	ExpiresAt       time.Time // Zero means no expiry (pending verification)
	Version         uint64    // Strictly increasing per published snapshot
}

// IsAuthenticated reports whether the snapshot represents a logged in user.
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// expired reports whether the snapshot's expiry has been reached at now.
func (s Session) expired(now time.Time) bool {
	return s.Status != StatusAnonymous && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func anonymous(version uint64) Session {
	return Session{Status: StatusAnonymous, Version: version}
}
