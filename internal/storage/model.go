package storage

import "time"

// Session is one refresh session. The ID is the opaque value carried inside
// the sealed refresh cookie; rotation replaces the ID on every refresh.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RotatedFrom string    `json:"rotated_from,omitempty"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
