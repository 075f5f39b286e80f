// Package access implements the gate that decides whether a Telegram user may
// reach the completion provider, and owns the promo code and grant registries.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"tg_ai_gate_bot/internal/domain"
	"tg_ai_gate_bot/internal/logging"
)

const (
	// DefaultCodeTTL applies when IssueCode is called without a ttl.
	DefaultCodeTTL = 24 * time.Hour
	// DefaultSessionTTL is the length of access granted per redeemed code.
	DefaultSessionTTL = 10 * time.Second
)

// MembershipProbe reports whether userID belongs to the required channel.
type MembershipProbe func(ctx context.Context, userID int64) (bool, error)

// Outcome classifies a redemption attempt.
type Outcome int

const (
	// OutcomeNoMatch means the text is not a registered code.
	OutcomeNoMatch Outcome = iota
	// OutcomeRejected means the code exists but cannot be redeemed.
	OutcomeRejected
	// OutcomeGranted means the code was consumed and a session granted.
	OutcomeGranted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeRejected:
		return "rejected"
	case OutcomeGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// RejectReason explains an OutcomeRejected result.
type RejectReason string

const (
	ReasonAlreadyUsed RejectReason = "already_used"
	ReasonExpired     RejectReason = "expired"
)

// RedemptionResult is returned by Redeem.
type RedemptionResult struct {
	Outcome Outcome
	Reason  RejectReason
	Code    domain.PromoCode
	Grant   domain.AccessGrant
}

// Stats summarizes registry sizes.
type Stats struct {
	Codes  int64
	Grants int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCodeGenerator replaces RandomCode.
func WithCodeGenerator(generate func() string) Option {
	return func(g *Gate) {
		if generate != nil {
			g.generate = generate
		}
	}
}

// WithCodeTTL sets the default code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.codeTTL = ttl
		}
	}
}

// WithSessionTTL sets the access length granted per redeemed code.
func WithSessionTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.sessionTTL = ttl
		}
	}
}

// WithLogger sets the logger used for fail-closed diagnostics.
func WithLogger(logger *logrus.Entry) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate decides access and manages code and grant lifecycles.
type Gate struct {
	codes      CodeStore
	grants     GrantStore
	adminID    int64
	codeTTL    time.Duration
	sessionTTL time.Duration
	now        func() time.Time
	generate   func() string
	logger     *logrus.Entry
}

// NewGate constructs a Gate over the given registries for the single admin.
func NewGate(codes CodeStore, grants GrantStore, adminID int64, opts ...Option) (*Gate, error) {
	if codes == nil || grants == nil {
		return nil, errors.New("code and grant stores are required")
	}
	if adminID == 0 {
		return nil, errors.New("admin id is required")
	}

	g := &Gate{
		codes:      codes,
		grants:     grants,
		adminID:    adminID,
		codeTTL:    DefaultCodeTTL,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		generate:   RandomCode,
		logger:     logging.Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// AdminID returns the configured admin identity.
func (g *Gate) AdminID() int64 {
	return g.adminID
}

// SessionTTL returns the access length granted per redeemed code.
func (g *Gate) SessionTTL() time.Duration {
	return g.sessionTTL
}

// IssueCode registers a promo code on behalf of requesterID. An empty code is
// replaced by a generated one; ttl <= 0 selects the default code TTL.
func (g *Gate) IssueCode(ctx context.Context, requesterID int64, code string, ttl time.Duration) (domain.PromoCode, error) {
	if requesterID != g.adminID {
		return domain.PromoCode{}, ErrUnauthorized
	}
	if ttl <= 0 {
		ttl = g.codeTTL
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return g.issueGenerated(ctx, requesterID, ttl)
	}
	if strings.IndexFunc(code, invalidCodeRune) >= 0 {
		return domain.PromoCode{}, ErrInvalidCode
	}

	issued := g.newCode(code, requesterID, ttl)
	if err := g.codes.InsertCode(ctx, issued); err != nil {
		if errors.Is(err, domain.ErrCodeExists) {
			return domain.PromoCode{}, ErrDuplicateCode
		}
		return domain.PromoCode{}, fmt.Errorf("issue code: %w", err)
	}

	return issued, nil
}

// invalidCodeRune rejects whitespace and the backtick, which would break the
// code span in Markdown replies.
func invalidCodeRune(r rune) bool {
	return unicode.IsSpace(r) || r == '`'
}

func (g *Gate) issueGenerated(ctx context.Context, requesterID int64, ttl time.Duration) (domain.PromoCode, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		issued := g.newCode(g.generate(), requesterID, ttl)
		err := g.codes.InsertCode(ctx, issued)
		if err == nil {
			return issued, nil
		}
		if !errors.Is(err, domain.ErrCodeExists) {
			return domain.PromoCode{}, fmt.Errorf("issue generated code: %w", err)
		}
	}

	return domain.PromoCode{}, ErrCodeGeneration
}

func (g *Gate) newCode(code string, requesterID int64, ttl time.Duration) domain.PromoCode {
	now := g.now()
	return domain.PromoCode{
		Code:      code,
		IssuedBy:  requesterID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Redeem tries text as a promo code for userID. Unknown text yields
// OutcomeNoMatch without touching either registry. A permanent grant already
// held is kept.
func (g *Gate) Redeem(ctx context.Context, userID int64, text string) (RedemptionResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return RedemptionResult{}, ErrEmptyCode
	}

	now := g.now()
	code, err := g.codes.ConsumeCode(ctx, text, userID, now)
	switch {
	case errors.Is(err, domain.ErrCodeNotFound):
		return RedemptionResult{Outcome: OutcomeNoMatch}, nil
	case errors.Is(err, domain.ErrCodeConsumed):
		return RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonAlreadyUsed, Code: code}, nil
	case errors.Is(err, domain.ErrCodeExpired):
		return RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonExpired, Code: code}, nil
	case err != nil:
		return RedemptionResult{}, fmt.Errorf("redeem code: %w", err)
	}

	grant, err := g.grants.SaveSessionGrant(ctx, domain.AccessGrant{
		UserID:    userID,
		Kind:      domain.GrantTimeBoxed,
		GrantedAt: now,
		ExpiresAt: now.Add(g.sessionTTL),
	})
	if err != nil {
		return RedemptionResult{}, fmt.Errorf("save session grant: %w", err)
	}

	return RedemptionResult{Outcome: OutcomeGranted, Code: code, Grant: grant}, nil
}

// HasAccess checks a standing or unexpired time-boxed grant, then the admin
// identity, then probe. Expired grants are deleted on the way. Store and probe
// failures deny access.
func (g *Gate) HasAccess(ctx context.Context, userID int64, probe MembershipProbe) bool {
	now := g.now()
	entry := g.logger.WithField("user_id", userID)

	grant, err := g.grants.FindGrant(ctx, userID)
	switch {
	case err == nil && grant.ValidAt(now):
		return true
	case err == nil:
		deleted, delErr := g.grants.DeleteExpiredGrant(ctx, userID, now)
		switch {
		case delErr != nil:
			entry.WithField("event", "grant_cleanup_error").WithError(delErr).Warn("failed to delete expired grant")
		case deleted:
			entry.WithField("event", "grant_expired").Debug("deleted expired grant")
		}
	case !errors.Is(err, domain.ErrGrantNotFound):
		entry.WithField("event", "grant_lookup_error").WithError(err).Warn("grant lookup failed")
	}

	if userID == g.adminID {
		return true
	}
	if probe == nil {
		return false
	}

	member, err := probe(ctx, userID)
	if err != nil {
		entry.WithField("event", "membership_probe_error").WithError(err).Warn("membership probe failed, denying access")
		return false
	}

	return member
}

// GrantPermanent records a standing grant for userID.
func (g *Gate) GrantPermanent(ctx context.Context, userID int64) (domain.AccessGrant, error) {
	if userID == 0 {
		return domain.AccessGrant{}, errors.New("user id is required")
	}

	grant := domain.AccessGrant{
		UserID:    userID,
		Kind:      domain.GrantPermanent,
		GrantedAt: g.now(),
	}
	if err := g.grants.SaveGrant(ctx, grant); err != nil {
		return domain.AccessGrant{}, fmt.Errorf("grant permanent access: %w", err)
	}

	return grant, nil
}

// Stats returns the number of registered codes and currently valid grants.
func (g *Gate) Stats(ctx context.Context) (Stats, error) {
	codes, err := g.codes.CountCodes(ctx)
	if err != nil {
		return Stats{}, err
	}
	grants, err := g.grants.CountGrants(ctx, g.now())
	if err != nil {
		return Stats{}, err
	}

	return Stats{Codes: codes, Grants: grants}, nil
}
