package domain

import "time"

// Identity is the authenticated principal attached to a connection after
// credential validation. Fields other than ExpiresAt are immutable for the
// lifetime of the connection; ExpiresAt may be swapped by a successful
// mid-session reauthentication for the same subject.
type Identity struct {
	UserID string
	Name   string
	Admin  bool
	Tier   Tier

	// ExpiresAt is the credential expiry. Zero means the credential does
	// not expire (session-variant credentials without a recorded expiry).
	ExpiresAt time.Time
}

// Expired reports whether the identity's credential has expired at t.
func (id Identity) Expired(t time.Time) bool {
	return !id.ExpiresAt.IsZero() && !t.Before(id.ExpiresAt)
}
