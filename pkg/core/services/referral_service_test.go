package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo    *sqlite.SQLiteRepository
	svc     *ReferralService
	clock   *fakeClock
	metrics *metrics.Metrics
	alice   *domain.Account
}

func newFixture(t *testing.T, accounts func(*sqlite.SQLiteRepository) ports.AccountDirectory) *fixture {
	t.Helper()
	repo, err := sqlite.NewSQLiteRepository("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	var dir ports.AccountDirectory = repo
	if accounts != nil {
		dir = accounts(repo)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewReferralService(repo, repo, dir,
		WithClock(clock.Now),
		WithLocation(time.UTC),
		WithMetrics(m),
		WithLogger(zaptest.NewLogger(t)),
	)

	alice := &domain.Account{Username: "alice", Email: "alice@example.com", ReferralCode: "ABC123"}
	require.NoError(t, repo.CreateAccount(context.Background(), alice))

	return &fixture{repo: repo, svc: svc, clock: clock, metrics: m, alice: alice}
}

func (f *fixture) addUser(t *testing.T, name string) *domain.Account {
	t.Helper()
	a := &domain.Account{Username: name, Email: name + "@example.com", ReferralCode: "REF-" + name}
	require.NoError(t, f.repo.CreateAccount(context.Background(), a))
	return a
}

func fullDevice() domain.DeviceInfo {
	return domain.DeviceInfo{
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		ScreenResolution: "1920x1080",
		Timezone:         "Asia/Bangkok",
		Language:         "en-US",
		Platform:         "Win32",
		Browser:          "Chrome",
		OS:               "Windows",
		DeviceType:       "desktop",
	}
}

// bareDevice scores 55: short agent plus three missing attributes
func bareDevice() domain.DeviceInfo {
	return domain.DeviceInfo{UserAgent: "curl/8.0"}
}

func sec(ip string) domain.SecurityContext {
	return domain.SecurityContext{IPAddress: ip, Device: fullDevice()}
}

func TestRecordClickFreshVisitor(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.RecordClick(context.Background(), "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Blocked)
	assert.Equal(t, int64(15), res.Reward)

	c := res.Click
	assert.Equal(t, domain.StatusPending, c.Status)
	assert.Equal(t, int64(15), c.ClickReward)
	assert.LessOrEqual(t, c.RiskScore, 20)
	assert.Len(t, c.Fingerprint, domain.FingerprintLength)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), c.ExpiresAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClicksCounter().WithLabelValues("allowed")))

	stats, err := f.repo.GetStats(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.TotalClicks)
}

func TestRecordClickHourlyLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var last *domain.ClickResult
	for i := 0; i < 11; i++ {
		res, err := f.svc.RecordClick(ctx, "ABC123", sec("198.51.100.1"))
		require.NoError(t, err)
		if i < 10 {
			assert.False(t, res.Blocked, "click %d", i+1)
		}
		last = res
		f.clock.Advance(time.Minute)
	}

	assert.True(t, last.Success)
	assert.True(t, last.Blocked)
	assert.Equal(t, "Too many clicks per hour from this IP", last.Reason)
	assert.Equal(t, domain.StatusBlocked, last.Click.Status)
	assert.Zero(t, last.Click.TotalReward)
	assert.Zero(t, last.Reward)

	stored, err := f.repo.GetClick(ctx, last.Click.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, stored.Status)
	assert.Equal(t, "Too many clicks per hour from this IP", stored.BlockReason)
}

func TestRecordClickHourWindowSlides(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.svc.RecordClick(ctx, "ABC123", sec("198.51.100.1"))
		require.NoError(t, err)
	}
	f.clock.Advance(61 * time.Minute)

	res, err := f.svc.RecordClick(ctx, "ABC123", sec("198.51.100.1"))
	require.NoError(t, err)
	assert.False(t, res.Blocked)
}

func TestRecordClickErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	banned := f.addUser(t, "banned")
	require.NoError(t, f.repo.SetAccountStatus(ctx, banned.ID, domain.AccountBanned))

	tests := []struct {
		name string
		code string
		ip   string
		want error
	}{
		{"empty code", "", "1.1.1.1", domain.ErrInvalidCode},
		{"unknown code", "NOPE", "1.1.1.1", domain.ErrInvalidCode},
		{"missing ip", "ABC123", "", domain.ErrInvalidInput},
		{"inactive referrer", banned.ReferralCode, "1.1.1.1", domain.ErrReferrerInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordClick(ctx, tt.code, sec(tt.ip))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	n, err := f.repo.CountClicks(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordSignupBronzeBonus(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addUser(t, "bob")

	res, err := f.svc.RecordSignup(context.Background(), ports.SignupInput{
		ReferredUserID: bob.ID,
		ReferralCode:   "ABC123",
		Security:       sec("203.0.113.9"),
	})
	require.NoError(t, err)

	s := res.Signup
	assert.Equal(t, int64(30), s.SignupReward)
	assert.Equal(t, int64(3), s.TierBonus)
	assert.Equal(t, int64(33), s.TotalReward)
	assert.True(t, s.Verified)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.False(t, res.RequiresReview)
	assert.Equal(t, f.alice.ID, s.ReferrerID)
}

func TestRecordSignupSilverAfterFiveVerified(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		u := f.addUser(t, fmt.Sprintf("user%d", i))
		res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
			ReferredUserID: u.ID,
			ReferralCode:   "ABC123",
			Security:       sec(fmt.Sprintf("192.0.2.%d", i+1)),
		})
		require.NoError(t, err)
		require.True(t, res.Signup.Verified)
	}

	tier, err := f.svc.GetTier(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierSilver, tier.Name)

	next := f.addUser(t, "next")
	res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
		ReferredUserID: next.ID,
		ReferralCode:   "ABC123",
		Security:       sec("192.0.2.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Signup.TierBonus)
	assert.Equal(t, int64(37), res.Signup.TotalReward)
}

func TestRecordSignupRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	tests := []struct {
		name string
		in   ports.SignupInput
		want error
	}{
		{"self referral by code", ports.SignupInput{ReferredUserID: f.alice.ID, ReferralCode: "ABC123", Security: sec("1.1.1.1")}, domain.ErrSelfReferral},
		{"self referral by id", ports.SignupInput{ReferrerID: f.alice.ID, ReferredUserID: f.alice.ID, Security: sec("1.1.1.1")}, domain.ErrSelfReferral},
		{"unknown code", ports.SignupInput{ReferredUserID: bob.ID, ReferralCode: "NOPE", Security: sec("1.1.1.1")}, domain.ErrInvalidCode},
		{"code of another referrer", ports.SignupInput{ReferrerID: f.alice.ID, ReferredUserID: bob.ID, ReferralCode: "REF-bob", Security: sec("1.1.1.1")}, domain.ErrInvalidCode},
		{"unknown referred user", ports.SignupInput{ReferredUserID: 999, ReferralCode: "ABC123", Security: sec("1.1.1.1")}, domain.ErrUserNotFound},
		{"missing ip", ports.SignupInput{ReferredUserID: bob.ID, ReferralCode: "ABC123"}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordSignup(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecordSignupDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")
	in := ports.SignupInput{ReferredUserID: bob.ID, ReferralCode: "ABC123", Security: sec("203.0.113.9")}

	_, err := f.svc.RecordSignup(ctx, in)
	require.NoError(t, err)

	in.Security = sec("203.0.113.10")
	_, err = f.svc.RecordSignup(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateSignup)
}

func TestConcurrentSignupsAttributeOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RecordSignup(ctx, ports.SignupInput{
				ReferredUserID: bob.ID,
				ReferralCode:   "ABC123",
				Security:       sec(fmt.Sprintf("192.0.2.%d", i+1)),
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateSignup)
	}
	assert.Equal(t, 1, ok)

	total, err := f.repo.CountReferredUsers(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestRecordSignupBlockedByIPLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var last *domain.SignupResult
	for i := 0; i < 3; i++ {
		u := f.addUser(t, fmt.Sprintf("user%d", i))
		res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
			ReferredUserID: u.ID,
			ReferralCode:   "ABC123",
			Security:       sec("198.51.100.20"),
		})
		require.NoError(t, err)
		last = res
	}

	assert.True(t, last.Blocked)
	assert.Equal(t, "Too many signups per hour from this IP", last.Reason)
	assert.Equal(t, domain.StatusBlocked, last.Signup.Status)
	assert.Zero(t, last.Signup.TotalReward)
	assert.False(t, last.Signup.Verified)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SignupsCounter().WithLabelValues("blocked")))
}

func TestSignupConvertsClickWithoutDoubleReward(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
		ReferredUserID: bob.ID,
		ReferralCode:   "ABC123",
		ClickID:        click.Click.ID,
		Security:       sec("203.0.113.7"),
	})
	require.NoError(t, err)
	assert.Equal(t, click.Click.ID, res.Signup.ClickID)

	converted, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.True(t, converted.Converted)
	require.NotNil(t, converted.ConvertedUserID)
	assert.Equal(t, bob.ID, *converted.ConvertedUserID)
	assert.Equal(t, int64(15), converted.TotalReward)

	claim, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.NoError(t, err)
	assert.Equal(t, int64(48), claim.TotalClaimed)
}

func TestSignupIgnoresExpiredClick(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
		ReferredUserID: bob.ID,
		ReferralCode:   "ABC123",
		ClickID:        click.Click.ID,
		Security:       sec("203.0.113.7"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Signup.ClickID)

	stored, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.False(t, stored.Converted)
}

func TestClaimAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	signup, err := f.svc.RecordSignup(ctx, ports.SignupInput{
		ReferredUserID: bob.ID,
		ReferralCode:   "ABC123",
		Security:       sec("203.0.113.9"),
	})
	require.NoError(t, err)

	res, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(48), res.TotalClaimed)
	assert.Equal(t, 1, res.ClicksClaimed)
	assert.Equal(t, int64(15), res.ClickAmount)
	assert.Equal(t, 1, res.SignupsClaimed)
	assert.Equal(t, int64(33), res.SignupAmount)
	assert.Equal(t, int64(48), res.NewBalance)

	c, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.True(t, c.Claimed)
	require.NotNil(t, c.ClaimedAt)
	s, err := f.repo.GetSignup(ctx, signup.Signup.ID)
	require.NoError(t, err)
	assert.True(t, s.Claimed)

	again, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Zero(t, again.TotalClaimed)
	assert.Equal(t, int64(48), again.NewBalance)

	assert.Equal(t, 48.0, testutil.ToFloat64(f.metrics.ClaimedCoins()))
}

func TestClaimByType(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	_, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	_, err = f.svc.RecordSignup(ctx, ports.SignupInput{ReferredUserID: bob.ID, ReferralCode: "ABC123", Security: sec("203.0.113.9")})
	require.NoError(t, err)

	clicks, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimClicks)
	require.NoError(t, err)
	assert.Equal(t, int64(15), clicks.TotalClaimed)
	assert.Zero(t, clicks.SignupsClaimed)

	signups, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimSignups)
	require.NoError(t, err)
	assert.Equal(t, int64(33), signups.TotalClaimed)
	assert.Equal(t, int64(48), signups.NewBalance)

	_, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimType("everything"))
	assert.ErrorIs(t, err, domain.ErrInvalidClaimType)

	_, err = f.svc.Claim(ctx, 999, domain.ClaimAll)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.RecordClick(ctx, "ABC123", sec(fmt.Sprintf("192.0.2.%d", i+1)))
		require.NoError(t, err)
	}

	const n = 5
	totals := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
			if assert.NoError(t, err) {
				totals[i] = res.TotalClaimed
			}
		}(i)
	}
	wg.Wait()

	var sum int64
	for _, v := range totals {
		sum += v
	}
	assert.Equal(t, int64(60), sum)

	user, err := f.repo.GetUserByID(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), user.Balance)
}

type failingCredit struct {
	*sqlite.SQLiteRepository
}

func (failingCredit) Credit(context.Context, int64, int64, string) error {
	return errors.New("ledger unavailable")
}

func TestClaimCreditFailureLeavesRecordsClaimable(t *testing.T) {
	f := newFixture(t, func(r *sqlite.SQLiteRepository) ports.AccountDirectory { return failingCredit{r} })
	ctx := context.Background()

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.ErrorIs(t, err, domain.ErrCreditFailed)
	assert.True(t, domain.IsRetryable(err))

	stored, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.False(t, stored.Claimed)

	user, err := f.repo.GetUserByID(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, user.Balance)
}

func TestReviewSignup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")
	carol := f.addUser(t, "carol")

	held := func(u *domain.Account, ip string) *domain.ReferralSignup {
		res, err := f.svc.RecordSignup(ctx, ports.SignupInput{
			ReferredUserID: u.ID,
			ReferralCode:   "ABC123",
			Security:       domain.SecurityContext{IPAddress: ip, Device: bareDevice()},
		})
		require.NoError(t, err)
		require.True(t, res.RequiresReview)
		require.Equal(t, domain.StatusPending, res.Signup.Status)
		return res.Signup
	}
	approved := held(bob, "192.0.2.1")
	rejected := held(carol, "192.0.2.2")

	claim, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimSignups)
	require.NoError(t, err)
	assert.Zero(t, claim.TotalClaimed)

	got, err := f.svc.ReviewSignup(ctx, approved.ID, true, "checked manually")
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	got, err = f.svc.ReviewSignup(ctx, rejected.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, got.Status)
	assert.Zero(t, got.TotalReward)

	_, err = f.svc.ReviewSignup(ctx, approved.ID, false, "")
	assert.ErrorIs(t, err, domain.ErrNotReviewable)
	_, err = f.svc.ReviewSignup(ctx, 999, true, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	claim, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimSignups)
	require.NoError(t, err)
	assert.Equal(t, approved.TotalReward, claim.TotalClaimed)
}

func TestExpireClicksKeepsRewardClaimable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	n, err := f.svc.ExpireClicks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.ExpireClicks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	claim, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimClicks)
	require.NoError(t, err)
	assert.Equal(t, int64(15), claim.TotalClaimed)
}

func TestStatsAfterActivity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.addUser(t, "bob")

	for i := 0; i < 4; i++ {
		_, err := f.svc.RecordClick(ctx, "ABC123", sec(fmt.Sprintf("192.0.2.%d", i+1)))
		require.NoError(t, err)
	}
	_, err := f.svc.RecordSignup(ctx, ports.SignupInput{ReferredUserID: bob.ID, ReferralCode: "ABC123", Security: sec("192.0.2.50")})
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimClicks)
	require.NoError(t, err)

	stats, err := f.svc.GetUserStats(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalClicks)
	assert.Equal(t, int64(4), stats.ClicksToday)
	assert.Equal(t, int64(4), stats.UniqueClicks)
	assert.Equal(t, int64(1), stats.TotalSignups)
	assert.Equal(t, int64(1), stats.VerifiedSignups)
	assert.InDelta(t, 25.0, stats.ConversionRate, 0.001)
	assert.Equal(t, int64(93), stats.TotalEarnings)
	assert.Equal(t, int64(60), stats.ClaimedEarnings)
	assert.Equal(t, int64(33), stats.ClaimableEarnings)
	assert.Equal(t, domain.TierBronze, stats.CurrentTier)

	rebuilt, err := f.svc.RebuildStats(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalEarnings, rebuilt.TotalEarnings)

	n, err := f.svc.RebuildAllStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.svc.RecordClick(ctx, "ABC123", sec(fmt.Sprintf("192.0.2.%d", i+1)))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	for i := 0; i < 2; i++ {
		u := f.addUser(t, fmt.Sprintf("user%d", i))
		_, err := f.svc.RecordSignup(ctx, ports.SignupInput{ReferredUserID: u.ID, ReferralCode: "ABC123", Security: sec(fmt.Sprintf("198.51.100.%d", i+1))})
		require.NoError(t, err)
	}

	clicks, total, err := f.svc.ListClicks(ctx, f.alice.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Len(t, clicks, 2)

	clicks, _, err = f.svc.ListClicks(ctx, f.alice.ID, 0, 500)
	require.NoError(t, err)
	assert.Len(t, clicks, 12)

	users, total, err := f.svc.GetReferredUsers(ctx, f.alice.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, users, 2)

	_, _, err = f.svc.ListClicks(ctx, 999, 1, 10)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, limit        int
		wantLimit, wantOff int
	}{
		{1, 10, 10, 0},
		{0, 0, 10, 0},
		{3, 20, 20, 40},
		{2, 1000, 100, 100},
	}
	for _, tt := range tests {
		limit, off := pageBounds(tt.page, tt.limit)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOff, off)
	}
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(-2, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageSize, limit)

	page, limit = NormalizePage(4, maxPageSize+1)
	assert.Equal(t, 4, page)
	assert.Equal(t, maxPageSize, limit)
}

func TestClaimByDeletedAccountIsNotRetryable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)
	require.NoError(t, f.repo.SetAccountStatus(ctx, f.alice.ID, domain.AccountDeleted))

	_, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, "USER_NOT_FOUND", domain.ErrorCode(err))

	stored, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.False(t, stored.Claimed)
}

type vanishingCredit struct {
	*sqlite.SQLiteRepository
}

func (vanishingCredit) Credit(context.Context, int64, int64, string) error {
	return fmt.Errorf("credit: %w", domain.ErrUserNotFound)
}

func TestClaimCreditOnVanishedAccount(t *testing.T) {
	f := newFixture(t, func(r *sqlite.SQLiteRepository) ports.AccountDirectory { return vanishingCredit{r} })
	ctx := context.Background()

	click, err := f.svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.NotErrorIs(t, err, domain.ErrCreditFailed)
	assert.False(t, domain.IsRetryable(err))

	stored, err := f.repo.GetClick(ctx, click.Click.ID)
	require.NoError(t, err)
	assert.False(t, stored.Claimed)
}

// staleFirstRead serves a zero balance on the first lookup, as if a concurrent
// claim committed right after it
type staleFirstRead struct {
	*sqlite.SQLiteRepository
	mu    sync.Mutex
	reads int
}

func (s *staleFirstRead) GetUserByID(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := s.SQLiteRepository.GetUserByID(ctx, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if err == nil && a != nil && s.reads == 1 {
		a.Balance = 0
	}
	return a, err
}

func TestZeroClaimReportsCurrentBalance(t *testing.T) {
	f := newFixture(t, func(r *sqlite.SQLiteRepository) ports.AccountDirectory { return &staleFirstRead{SQLiteRepository: r} })
	ctx := context.Background()
	require.NoError(t, f.repo.Credit(ctx, f.alice.ID, 70, "earlier claim"))

	res, err := f.svc.Claim(ctx, f.alice.ID, domain.ClaimAll)
	require.NoError(t, err)
	assert.Zero(t, res.TotalClaimed)
	assert.Equal(t, int64(70), res.NewBalance)
}

type deadlineStats struct {
	*sqlite.SQLiteRepository
	mu          sync.Mutex
	calls       int
	hasDeadline bool
}

func (d *deadlineStats) AggregateStats(ctx context.Context, userID int64, windows domain.StatsWindows) (*domain.StatsCounts, error) {
	d.mu.Lock()
	d.calls++
	_, d.hasDeadline = ctx.Deadline()
	d.mu.Unlock()
	return d.SQLiteRepository.AggregateStats(ctx, userID, windows)
}

func TestInlineRefreshHasDeadline(t *testing.T) {
	repo, err := sqlite.NewSQLiteRepository("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()
	alice := &domain.Account{Username: "alice", Email: "alice@example.com", ReferralCode: "ABC123"}
	require.NoError(t, repo.CreateAccount(ctx, alice))

	stats := &deadlineStats{SQLiteRepository: repo}
	svc := NewReferralService(repo, stats, repo, WithLogger(zaptest.NewLogger(t)))

	_, err = svc.RecordClick(ctx, "ABC123", sec("203.0.113.7"))
	require.NoError(t, err)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Positive(t, stats.calls)
	assert.True(t, stats.hasDeadline)
}
