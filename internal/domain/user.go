package domain

// UserIdentity is derived per update from the inbound message; it is never persisted.
type UserIdentity struct {
	UserID  int64
	IsAdmin bool
}

// NewUserIdentity compares userID against the configured admin id.
func NewUserIdentity(userID, adminID int64) UserIdentity {
	return UserIdentity{
		UserID:  userID,
		IsAdmin: adminID != 0 && userID == adminID,
	}
}

// Role returns RoleAdmin or RoleUser.
func (u UserIdentity) Role() string {
	if u.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}
