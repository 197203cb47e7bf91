package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

// Transactor runs fn inside a single storage transaction. Repository calls
// made with the ctx passed to fn participate in it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReferralRepository is the event store for clicks and signups
type ReferralRepository interface {
	Transactor

	// Clicks
	CreateClick(ctx context.Context, click *domain.ReferralClick) error
	GetClick(ctx context.Context, id string) (*domain.ReferralClick, error)
	MarkClickConverted(ctx context.Context, id string, referredUserID int64, at time.Time) error
	CountClicksByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	CountClicksByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int64, error)
	ListClicks(ctx context.Context, referrerID int64, limit, offset int) ([]domain.ReferralClick, error)
	CountClicks(ctx context.Context, referrerID int64) (int64, error)
	ExpireClicks(ctx context.Context, now time.Time) (int64, error)

	// Signups
	// CreateSignup fails with domain.ErrDuplicateSignup when the referred user already has a row
	CreateSignup(ctx context.Context, signup *domain.ReferralSignup) error
	GetSignup(ctx context.Context, id int64) (*domain.ReferralSignup, error)
	GetSignupByReferredUser(ctx context.Context, referredUserID int64) (*domain.ReferralSignup, error)
	UpdateSignupReview(ctx context.Context, signup *domain.ReferralSignup) error
	CountSignupsByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	CountSignupsByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int64, error)
	CountVerifiedSignups(ctx context.Context, referrerID int64) (int64, error)
	ListReferredUsers(ctx context.Context, referrerID int64, limit, offset int) ([]domain.ReferredUser, error)
	CountReferredUsers(ctx context.Context, referrerID int64) (int64, error)

	// Claims. Each call marks every matching unclaimed row claimed in one
	// statement and reports exactly the rows it changed.
	ClaimClicks(ctx context.Context, referrerID int64, at time.Time) (domain.ClaimTally, error)
	ClaimSignups(ctx context.Context, referrerID int64, at time.Time) (domain.ClaimTally, error)

	// Migration / tooling
	DumpClicks(ctx context.Context) ([]domain.ReferralClick, error)
	DumpSignups(ctx context.Context) ([]domain.ReferralSignup, error)
}

// StatsRepository stores the derived per-user snapshot
type StatsRepository interface {
	AggregateStats(ctx context.Context, userID int64, windows domain.StatsWindows) (*domain.StatsCounts, error)
	UpsertStats(ctx context.Context, stats *domain.ReferralStats) error
	GetStats(ctx context.Context, userID int64) (*domain.ReferralStats, error)
	ListReferrerIDs(ctx context.Context) ([]int64, error)
}

// AccountDirectory is the user-account system the engine reads referrers
// from and credits claimed rewards to. Credit either fully applies or fails.
type AccountDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*domain.Account, error)
	GetUserByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.Account, error)
	Credit(ctx context.Context, userID, amount int64, reason string) error
}

// StatsTrigger schedules a best-effort stats rebuild for a user
type StatsTrigger interface {
	Refresh(userID int64)
}

// ReferralService defines the referral engine operations exposed to callers
type ReferralService interface {
	RecordClick(ctx context.Context, referralCode string, sec domain.SecurityContext) (*domain.ClickResult, error)
	RecordSignup(ctx context.Context, in SignupInput) (*domain.SignupResult, error)
	Claim(ctx context.Context, userID int64, claimType domain.ClaimType) (*domain.ClaimResult, error)

	GetUserStats(ctx context.Context, userID int64) (*domain.ReferralStats, error)
	RebuildStats(ctx context.Context, userID int64) (*domain.ReferralStats, error)
	GetReferredUsers(ctx context.Context, userID int64, page, limit int) ([]domain.ReferredUser, int64, error)
	ListClicks(ctx context.Context, userID int64, page, limit int) ([]domain.ReferralClick, int64, error)
	GetTier(ctx context.Context, userID int64) (*domain.Tier, error)

	ReviewSignup(ctx context.Context, signupID int64, approve bool, notes string) (*domain.ReferralSignup, error)
	ExpireClicks(ctx context.Context) (int64, error)
}

// SignupInput is the attribution request for a freshly created account.
// ReferrerID may be zero, in which case the referral code decides.
type SignupInput struct {
	ReferrerID     int64
	ReferredUserID int64
	ReferralCode   string
	ClickID        string
	Security       domain.SecurityContext
}
