package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

// RecordClick stores one referral link click. Clicks that trip a rate limit or
// the risk ceiling are stored as blocked with a zero reward; that is still a
// successful call.
func (s *ReferralService) RecordClick(ctx context.Context, referralCode string, sec domain.SecurityContext) (*domain.ClickResult, error) {
	code := strings.TrimSpace(referralCode)
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", domain.ErrInvalidCode)
	}
	ip := strings.TrimSpace(sec.IPAddress)
	if ip == "" {
		return nil, fmt.Errorf("%w: ip address is required", domain.ErrInvalidInput)
	}

	referrer, err := s.accounts.GetUserByReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrer == nil {
		return nil, domain.ErrInvalidCode
	}
	if !referrer.Active() {
		return nil, domain.ErrReferrerInactive
	}

	now := s.now()
	fingerprint := domain.Fingerprint(sec.Device, ip)

	counts, err := s.limiter.ClickCounts(ctx, ip, fingerprint, now)
	if err != nil {
		return nil, fmt.Errorf("count recent clicks: %w", err)
	}
	risk := domain.ScoreRisk(domain.RiskInput{Device: sec.Device, PriorEvents: priorEvents(counts)})
	reason := s.policy.Click.BlockReason("clicks", counts, risk.Score)

	click := &domain.ReferralClick{
		ID:           uuid.NewString(),
		ReferrerID:   referrer.ID,
		ReferralCode: referrer.ReferralCode,
		SecuritySnapshot: domain.SecuritySnapshot{
			IPAddress:   ip,
			Device:      sec.Device,
			Fingerprint: fingerprint,
			RiskScore:   risk.Score,
			Suspicious:  domain.Suspicious(risk.Score, s.policy.SuspiciousThreshold),
			BlockReason: reason,
		},
		Status:    domain.StatusPending,
		ClickedAt: now,
		ExpiresAt: now.Add(s.policy.ClickExpiry),
		CreatedAt: now,
		UpdatedAt: now,
	}
	blocked := reason != ""
	if blocked {
		click.Status = domain.StatusBlocked
	} else {
		click.ClickReward = s.policy.ClickReward
		click.TotalReward = click.ClickReward
	}

	if err := s.repo.CreateClick(ctx, click); err != nil {
		return nil, fmt.Errorf("store click: %w", err)
	}

	s.metrics.ObserveClick(blocked, risk.Score)
	if blocked {
		s.logger.Info("referral click blocked",
			zap.Int64("referrer_id", referrer.ID),
			zap.String("click_id", click.ID),
			zap.String("reason", reason),
			zap.Int("risk_score", risk.Score),
			zap.Strings("signals", risk.Signals),
		)
	}

	s.refresh(referrer.ID)

	return &domain.ClickResult{
		Success: true,
		Blocked: blocked,
		Reason:  reason,
		Reward:  click.TotalReward,
		Click:   click,
	}, nil
}

// ListClicks returns a referrer's clicks newest first, blocked ones included
func (s *ReferralService) ListClicks(ctx context.Context, userID int64, page, limit int) ([]domain.ReferralClick, int64, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, 0, err
	}
	limit, offset := pageBounds(page, limit)

	clicks, err := s.repo.ListClicks(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountClicks(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return clicks, total, nil
}

// ExpireClicks closes the conversion window of stale pending clicks
func (s *ReferralService) ExpireClicks(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireClicks(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired referral clicks", zap.Int64("count", n))
	}
	return n, nil
}
