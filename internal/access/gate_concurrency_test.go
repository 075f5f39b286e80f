package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_ai_gate_bot/internal/domain"
)

// hookedGrants runs a one-shot callback right before the wrapped grant write,
// reproducing an update for the same user landing in between.
type hookedGrants struct {
	*MemoryStore
	beforeDeleteExpired func()
	beforeSaveSession   func()
}

func (s *hookedGrants) DeleteExpiredGrant(ctx context.Context, userID int64, now time.Time) (bool, error) {
	if hook := s.beforeDeleteExpired; hook != nil {
		s.beforeDeleteExpired = nil
		hook()
	}
	return s.MemoryStore.DeleteExpiredGrant(ctx, userID, now)
}

func (s *hookedGrants) SaveSessionGrant(ctx context.Context, grant domain.AccessGrant) (domain.AccessGrant, error) {
	if hook := s.beforeSaveSession; hook != nil {
		s.beforeSaveSession = nil
		hook()
	}
	return s.MemoryStore.SaveSessionGrant(ctx, grant)
}

func newHookedGate(t *testing.T, sessionTTL time.Duration) (*Gate, *hookedGrants, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	grants := &hookedGrants{MemoryStore: store}
	hookLogger, _ := logtest.NewNullLogger()

	gate, err := NewGate(store, grants, testAdminID,
		WithClock(clock.Now),
		WithSessionTTL(sessionTTL),
		WithLogger(logrus.NewEntry(hookLogger)),
	)
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	return gate, grants, clock
}

func TestConcurrentRedeemGrantsExactlyOnce(t *testing.T) {
	gate, store, _, _ := newTestGate(t)
	ctx := context.Background()

	if _, err := gate.IssueCode(ctx, testAdminID, "RACE01", time.Hour); err != nil {
		t.Fatalf("IssueCode returned error: %v", err)
	}

	const workers = 32
	results := make([]RedemptionResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = gate.Redeem(ctx, int64(5000+i), "RACE01")
		}(i)
	}
	close(start)
	wg.Wait()

	granted, rejected := 0, 0
	for i, result := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: Redeem returned error: %v", i, errs[i])
		}
		switch {
		case result.Outcome == OutcomeGranted:
			granted++
		case result.Outcome == OutcomeRejected && result.Reason == ReasonAlreadyUsed:
			rejected++
		default:
			t.Fatalf("worker %d: unexpected outcome %s(%s)", i, result.Outcome, result.Reason)
		}
	}

	if granted != 1 || rejected != workers-1 {
		t.Fatalf("expected 1 granted and %d already used, got %d and %d", workers-1, granted, rejected)
	}

	count, err := store.CountGrants(ctx, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil || count != 1 {
		t.Fatalf("expected exactly one session grant, got %d err=%v", count, err)
	}
}

func TestExpiredCleanupKeepsSessionGrantedMeanwhile(t *testing.T) {
	gate, grants, clock := newHookedGate(t, 10*time.Second)
	ctx := context.Background()

	for _, code := range []string{"OLD001", "NEW001"} {
		if _, err := gate.IssueCode(ctx, testAdminID, code, time.Hour); err != nil {
			t.Fatalf("IssueCode(%s) returned error: %v", code, err)
		}
	}
	if _, err := gate.Redeem(ctx, testUserID, "OLD001"); err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}

	clock.Advance(10 * time.Second)

	var redeemed RedemptionResult
	var redeemErr error
	grants.beforeDeleteExpired = func() {
		redeemed, redeemErr = gate.Redeem(ctx, testUserID, "NEW001")
	}

	gate.HasAccess(ctx, testUserID, noMember)

	if redeemErr != nil || redeemed.Outcome != OutcomeGranted {
		t.Fatalf("expected interleaved redemption to be granted, got %s err=%v", redeemed.Outcome, redeemErr)
	}

	grant, err := grants.FindGrant(ctx, testUserID)
	if err != nil {
		t.Fatalf("expected new session to survive expired cleanup, got %v", err)
	}
	if !grant.ValidAt(clock.Now()) {
		t.Fatalf("expected surviving grant to be valid, got %+v", grant)
	}
	if !gate.HasAccess(ctx, testUserID, noMember) {
		t.Fatalf("expected access right after a granted redemption")
	}
}

func TestRedeemDoesNotOverwritePermanentGrantedMeanwhile(t *testing.T) {
	gate, grants, _ := newHookedGate(t, 10*time.Second)
	ctx := context.Background()

	if _, err := gate.IssueCode(ctx, testAdminID, "CLAIM1", time.Hour); err != nil {
		t.Fatalf("IssueCode returned error: %v", err)
	}

	grants.beforeSaveSession = func() {
		if _, err := gate.GrantPermanent(ctx, testUserID); err != nil {
			t.Errorf("GrantPermanent returned error: %v", err)
		}
	}

	result, err := gate.Redeem(ctx, testUserID, "CLAIM1")
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if result.Outcome != OutcomeGranted || result.Grant.Kind != domain.GrantPermanent {
		t.Fatalf("expected permanent grant in effect, got %s %+v", result.Outcome, result.Grant)
	}

	grant, err := grants.FindGrant(ctx, testUserID)
	if err != nil || grant.Kind != domain.GrantPermanent {
		t.Fatalf("expected permanent grant to survive redemption, got %+v err=%v", grant, err)
	}
}

func TestConcurrentAccessChecksDuringRedeem(t *testing.T) {
	gate, store, clock, _ := newTestGate(t, WithSessionTTL(10*time.Second))
	ctx := context.Background()

	for _, code := range []string{"OLD002", "NEW002"} {
		if _, err := gate.IssueCode(ctx, testAdminID, code, time.Hour); err != nil {
			t.Fatalf("IssueCode(%s) returned error: %v", code, err)
		}
	}
	if _, err := gate.Redeem(ctx, testUserID, "OLD002"); err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	clock.Advance(10 * time.Second)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			gate.HasAccess(ctx, testUserID, noMember)
		}()
	}

	var result RedemptionResult
	var redeemErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		result, redeemErr = gate.Redeem(ctx, testUserID, "NEW002")
	}()

	close(start)
	wg.Wait()

	if redeemErr != nil || result.Outcome != OutcomeGranted {
		t.Fatalf("expected redemption to be granted, got %s err=%v", result.Outcome, redeemErr)
	}
	if _, err := store.FindGrant(ctx, testUserID); err != nil {
		t.Fatalf("expected session to survive concurrent cleanups, got %v", err)
	}
	if !gate.HasAccess(ctx, testUserID, noMember) {
		t.Fatalf("expected access after concurrent redemption")
	}
}
