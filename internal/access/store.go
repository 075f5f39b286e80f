package access

import (
	"context"
	"time"

	"tg_ai_gate_bot/internal/domain"
)

// CodeStore is the promo code registry. ConsumeCode must check and consume in
// one atomic step and report domain.ErrCodeNotFound, domain.ErrCodeConsumed or
// domain.ErrCodeExpired when nothing was consumed.
type CodeStore interface {
	InsertCode(ctx context.Context, code domain.PromoCode) error
	ConsumeCode(ctx context.Context, code string, userID int64, now time.Time) (domain.PromoCode, error)
	CountCodes(ctx context.Context) (int64, error)
}

// GrantStore is the access grant registry, keyed by user id. Every
// conditional write is a single atomic step so concurrent updates for the
// same user cannot undo each other.
type GrantStore interface {
	// SaveGrant stores grant unconditionally.
	SaveGrant(ctx context.Context, grant domain.AccessGrant) error
	// SaveSessionGrant stores a time-boxed grant unless the user already holds
	// a permanent one, and returns the grant in effect afterwards.
	SaveSessionGrant(ctx context.Context, grant domain.AccessGrant) (domain.AccessGrant, error)
	FindGrant(ctx context.Context, userID int64) (domain.AccessGrant, error)
	// DeleteExpiredGrant removes the grant only if it is invalid at now.
	DeleteExpiredGrant(ctx context.Context, userID int64, now time.Time) (bool, error)
	// CountGrants counts grants valid at now.
	CountGrants(ctx context.Context, now time.Time) (int64, error)
}
