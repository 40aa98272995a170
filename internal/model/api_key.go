package model

import "time"

// APIKey authenticates dashboard API callers. The raw key is only ever shown
// once at creation time.
type APIKey struct {
	ID        string     `json:"id"`
	KeyHash   string     `json:"-"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
