package domain

import "errors"

var (
	// ErrCodeExists is returned when inserting a code that is already registered.
	ErrCodeExists = errors.New("promo code already exists")
	// ErrCodeNotFound is returned when a code is not registered.
	ErrCodeNotFound = errors.New("promo code not found")
	// ErrCodeConsumed is returned when redeeming a code that was already used.
	ErrCodeConsumed = errors.New("promo code already consumed")
	// ErrCodeExpired is returned when redeeming a code past its expiry.
	ErrCodeExpired = errors.New("promo code expired")
	// ErrGrantNotFound is returned when a user has no grant on record.
	ErrGrantNotFound = errors.New("access grant not found")
)
