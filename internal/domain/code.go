package domain

import "time"

// PromoCode is an admin-issued token redeemable once for a time-boxed grant.
type PromoCode struct {
	Code       string    `bson:"code" json:"code"`
	IssuedBy   int64     `bson:"issued_by" json:"issued_by"`
	IssuedAt   time.Time `bson:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`
	Consumed   bool      `bson:"consumed" json:"consumed"`
	ConsumedBy int64     `bson:"consumed_by,omitempty" json:"consumed_by,omitempty"`
	ConsumedAt time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// ExpiredAt reports whether the code can no longer be redeemed at now.
func (c PromoCode) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RedeemableAt reports whether the code is unconsumed and unexpired at now.
func (c PromoCode) RedeemableAt(now time.Time) bool {
	return !c.Consumed && !c.ExpiredAt(now)
}
