package access

import (
	"context"
	"sync"
	"time"

	"tg_ai_gate_bot/internal/domain"
)

// MemoryStore keeps codes and grants in process memory. It serves a single
// instance only; state is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	codes  map[string]domain.PromoCode
	grants map[int64]domain.AccessGrant
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:  make(map[string]domain.PromoCode),
		grants: make(map[int64]domain.AccessGrant),
	}
}

// InsertCode stores code unless its value is already registered.
func (s *MemoryStore) InsertCode(_ context.Context, code domain.PromoCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return domain.ErrCodeExists
	}
	s.codes[code.Code] = code
	return nil
}

// ConsumeCode checks and consumes under one lock.
func (s *MemoryStore) ConsumeCode(_ context.Context, code string, userID int64, now time.Time) (domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.codes[code]
	switch {
	case !ok:
		return domain.PromoCode{}, domain.ErrCodeNotFound
	case existing.Consumed:
		return existing, domain.ErrCodeConsumed
	case existing.ExpiredAt(now):
		return existing, domain.ErrCodeExpired
	}

	existing.Consumed = true
	existing.ConsumedBy = userID
	existing.ConsumedAt = now
	s.codes[code] = existing
	return existing, nil
}

// CountCodes returns the number of registered codes.
func (s *MemoryStore) CountCodes(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.codes)), nil
}

// SaveGrant replaces the grant for grant.UserID.
func (s *MemoryStore) SaveGrant(_ context.Context, grant domain.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.UserID] = grant
	return nil
}

// FindGrant returns the grant for userID or domain.ErrGrantNotFound.
func (s *MemoryStore) FindGrant(_ context.Context, userID int64) (domain.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[userID]
	if !ok {
		return domain.AccessGrant{}, domain.ErrGrantNotFound
	}
	return grant, nil
}

// SaveSessionGrant stores grant unless a permanent grant is already held.
func (s *MemoryStore) SaveSessionGrant(_ context.Context, grant domain.AccessGrant) (domain.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.grants[grant.UserID]; ok && existing.Kind == domain.GrantPermanent {
		return existing, nil
	}
	s.grants[grant.UserID] = grant
	return grant, nil
}

// DeleteExpiredGrant re-checks validity under the lock before deleting.
func (s *MemoryStore) DeleteExpiredGrant(_ context.Context, userID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[userID]
	if !ok || grant.ValidAt(now) {
		return false, nil
	}
	delete(s.grants, userID)
	return true, nil
}

// CountGrants returns the number of grants valid at now.
func (s *MemoryStore) CountGrants(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, grant := range s.grants {
		if grant.ValidAt(now) {
			count++
		}
	}
	return count, nil
}
