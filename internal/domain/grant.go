package domain

import "time"

// GrantKind distinguishes standing grants from time-boxed sessions.
type GrantKind string

const (
	// GrantPermanent never expires.
	GrantPermanent GrantKind = "permanent"
	// GrantTimeBoxed is valid only while now < ExpiresAt.
	GrantTimeBoxed GrantKind = "timeboxed"
)

// AccessGrant records that a user may use the completion feature.
type AccessGrant struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	Kind      GrantKind `bson:"kind" json:"kind"`
	GrantedAt time.Time `bson:"granted_at" json:"granted_at"`
	ExpiresAt time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// ValidAt reports whether the grant authorizes access at now. Validity is
// always computed, never stored.
func (g AccessGrant) ValidAt(now time.Time) bool {
	switch g.Kind {
	case GrantPermanent:
		return true
	case GrantTimeBoxed:
		return now.Before(g.ExpiresAt)
	default:
		return false
	}
}
