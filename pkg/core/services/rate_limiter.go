package services

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

// RateLimiter counts recent events straight from the event store. There is
// no separate counter state; concurrent bursts may be slightly over-admitted.
type RateLimiter struct {
	repo ports.ReferralRepository
}

func NewRateLimiter(repo ports.ReferralRepository) *RateLimiter {
	return &RateLimiter{repo: repo}
}

// ClickCounts returns click attempts in the 1h/24h IP and 24h fingerprint
// windows ending at now, counting the attempt being evaluated.
func (l *RateLimiter) ClickCounts(ctx context.Context, ip, fingerprint string, now time.Time) (domain.WindowCounts, error) {
	return countWindows(ctx, ip, fingerprint, now, l.repo.CountClicksByIP, l.repo.CountClicksByFingerprint)
}

// SignupCounts is ClickCounts over the signup records
func (l *RateLimiter) SignupCounts(ctx context.Context, ip, fingerprint string, now time.Time) (domain.WindowCounts, error) {
	return countWindows(ctx, ip, fingerprint, now, l.repo.CountSignupsByIP, l.repo.CountSignupsByFingerprint)
}

type countFunc func(ctx context.Context, key string, since time.Time) (int64, error)

func countWindows(ctx context.Context, ip, fingerprint string, now time.Time, byIP, byFingerprint countFunc) (domain.WindowCounts, error) {
	var c domain.WindowCounts
	var err error

	if c.IPHour, err = byIP(ctx, ip, now.Add(-time.Hour)); err != nil {
		return c, err
	}
	if c.IPDay, err = byIP(ctx, ip, now.Add(-24*time.Hour)); err != nil {
		return c, err
	}
	if c.FingerprintDay, err = byFingerprint(ctx, fingerprint, now.Add(-24*time.Hour)); err != nil {
		return c, err
	}

	c.IPHour++
	c.IPDay++
	c.FingerprintDay++
	return c, nil
}

// priorEvents converts a window count back to the number of stored events
func priorEvents(c domain.WindowCounts) int64 {
	if c.IPDay <= 0 {
		return 0
	}
	return c.IPDay - 1
}
