package domain

import (
	"testing"
	"time"
)

func TestNewUserIdentity(t *testing.T) {
	tests := []struct {
		name     string
		userID   int64
		adminID  int64
		wantRole string
	}{
		{"admin", 100, 100, RoleAdmin},
		{"user", 101, 100, RoleUser},
		{"unset admin", 0, 0, RoleUser},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NewUserIdentity(tt.userID, tt.adminID)
			if got.Role() != tt.wantRole {
				t.Fatalf("NewUserIdentity(%d, %d).Role() = %s, want %s", tt.userID, tt.adminID, got.Role(), tt.wantRole)
			}
		})
	}
}

func TestAccessGrantValidAt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(10 * time.Second)

	timeboxed := AccessGrant{UserID: 1, Kind: GrantTimeBoxed, ExpiresAt: expiresAt}
	if !timeboxed.ValidAt(now) {
		t.Fatalf("expected time-boxed grant to be valid before expiry")
	}
	if timeboxed.ValidAt(expiresAt) {
		t.Fatalf("expected time-boxed grant to be invalid at expiry")
	}

	permanent := AccessGrant{UserID: 1, Kind: GrantPermanent}
	if !permanent.ValidAt(now.Add(24 * 365 * time.Hour)) {
		t.Fatalf("expected permanent grant to stay valid")
	}

	if (AccessGrant{UserID: 1, Kind: "bogus"}).ValidAt(now) {
		t.Fatalf("expected unknown grant kind to be invalid")
	}
}

func TestPromoCodeRedeemableAt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	code := PromoCode{Code: "ABC123", ExpiresAt: now.Add(time.Hour)}

	if !code.RedeemableAt(now) {
		t.Fatalf("expected fresh code to be redeemable")
	}
	if code.RedeemableAt(now.Add(time.Hour)) {
		t.Fatalf("expected code to expire at expires_at")
	}

	code.Consumed = true
	if code.RedeemableAt(now) {
		t.Fatalf("expected consumed code to be rejected")
	}
}
