// Package domain defines the promo code, access grant, and identity types
// shared by the access gate and its storage backends.
package domain

const (
	// RoleAdmin is the single configured identity allowed to mint codes.
	RoleAdmin = "admin"
	// RoleUser represents any other Telegram user.
	RoleUser = "user"
)
