package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

const rejectedReason = "Rejected in manual review"

// RecordSignup attributes a new account to its referrer. The referred user
// can only ever be attributed once; the store's unique constraint decides
// races between concurrent calls.
func (s *ReferralService) RecordSignup(ctx context.Context, in ports.SignupInput) (*domain.SignupResult, error) {
	code := strings.TrimSpace(in.ReferralCode)
	ip := strings.TrimSpace(in.Security.IPAddress)
	if in.ReferredUserID <= 0 {
		return nil, fmt.Errorf("%w: referred user is required", domain.ErrInvalidInput)
	}
	if ip == "" {
		return nil, fmt.Errorf("%w: ip address is required", domain.ErrInvalidInput)
	}
	if in.ReferrerID != 0 && in.ReferrerID == in.ReferredUserID {
		return nil, domain.ErrSelfReferral
	}

	referrer, err := s.resolveReferrer(ctx, in.ReferrerID, code)
	if err != nil {
		return nil, err
	}
	if referrer.ID == in.ReferredUserID {
		return nil, domain.ErrSelfReferral
	}
	if _, err := s.requireUser(ctx, in.ReferredUserID); err != nil {
		return nil, err
	}

	now := s.now()
	fingerprint := domain.Fingerprint(in.Security.Device, ip)

	var (
		signup *domain.ReferralSignup
		risk   domain.RiskAssessment
	)
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetSignupByReferredUser(ctx, in.ReferredUserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateSignup
		}

		verifiedSoFar, err := s.repo.CountVerifiedSignups(ctx, referrer.ID)
		if err != nil {
			return fmt.Errorf("count verified signups: %w", err)
		}
		tier := domain.TierFor(verifiedSoFar)

		counts, err := s.limiter.SignupCounts(ctx, ip, fingerprint, now)
		if err != nil {
			return fmt.Errorf("count recent signups: %w", err)
		}
		risk = domain.ScoreRisk(domain.RiskInput{Device: in.Security.Device, PriorEvents: priorEvents(counts)})
		reason := s.policy.Signup.BlockReason("signups", counts, risk.Score)

		signup = &domain.ReferralSignup{
			ReferrerID:     referrer.ID,
			ReferredUserID: in.ReferredUserID,
			ReferralCode:   referrer.ReferralCode,
			SecuritySnapshot: domain.SecuritySnapshot{
				IPAddress:   ip,
				Device:      in.Security.Device,
				Fingerprint: fingerprint,
				RiskScore:   risk.Score,
				Suspicious:  domain.Suspicious(risk.Score, s.policy.SuspiciousThreshold),
				BlockReason: reason,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if reason != "" {
			signup.Status = domain.StatusBlocked
			signup.VerificationNotes = "Blocked: " + reason
		} else {
			signup.SignupReward = s.policy.SignupReward
			signup.TierBonus = domain.TierBonus(s.policy.SignupReward, tier)
			signup.TotalReward = signup.SignupReward + signup.TierBonus
			signup.Verified = risk.Score < s.policy.VerifyBelowRisk
			if signup.Verified {
				signup.Status = domain.StatusCompleted
				signup.VerificationNotes = "Auto-verified"
			} else {
				signup.Status = domain.StatusPending
				signup.VerificationNotes = fmt.Sprintf("Manual review required: risk score %d", risk.Score)
			}
		}

		click, err := s.convertibleClick(ctx, in.ClickID, referrer.ID)
		if err != nil {
			return err
		}
		if click != nil {
			signup.ClickID = click.ID
		}

		if err := s.repo.CreateSignup(ctx, signup); err != nil {
			return err
		}
		if click != nil && signup.Status != domain.StatusBlocked {
			if err := s.repo.MarkClickConverted(ctx, click.ID, in.ReferredUserID, now); err != nil {
				return fmt.Errorf("convert click: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	blocked := signup.Status == domain.StatusBlocked
	outcome := "verified"
	switch {
	case blocked:
		outcome = "blocked"
	case !signup.Verified:
		outcome = "review"
	}
	s.metrics.ObserveSignup(outcome, risk.Score)
	if outcome != "verified" {
		s.logger.Info("referral signup not auto-verified",
			zap.Int64("referrer_id", referrer.ID),
			zap.Int64("referred_user_id", in.ReferredUserID),
			zap.String("outcome", outcome),
			zap.String("reason", signup.BlockReason),
			zap.Int("risk_score", risk.Score),
		)
	}

	s.refresh(referrer.ID)

	return &domain.SignupResult{
		Success:        true,
		Blocked:        blocked,
		Reason:         signup.BlockReason,
		Reward:         signup.TotalReward,
		RequiresReview: !blocked && !signup.Verified,
		Signup:         signup,
	}, nil
}

func (s *ReferralService) resolveReferrer(ctx context.Context, referrerID int64, code string) (*domain.Account, error) {
	var referrer *domain.Account
	var err error
	switch {
	case referrerID != 0:
		referrer, err = s.accounts.GetUserByID(ctx, referrerID)
		if err != nil {
			return nil, err
		}
		if referrer == nil {
			return nil, domain.ErrUserNotFound
		}
		if code != "" && code != referrer.ReferralCode {
			return nil, fmt.Errorf("%w: code does not belong to referrer", domain.ErrInvalidCode)
		}
	case code != "":
		referrer, err = s.accounts.GetUserByReferralCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if referrer == nil {
			return nil, domain.ErrInvalidCode
		}
	default:
		return nil, fmt.Errorf("%w: referral code is required", domain.ErrInvalidCode)
	}
	if !referrer.Active() {
		return nil, domain.ErrReferrerInactive
	}
	return referrer, nil
}

// convertibleClick returns the click a signup may convert: same referrer,
// not yet converted, still inside its conversion window.
func (s *ReferralService) convertibleClick(ctx context.Context, clickID string, referrerID int64) (*domain.ReferralClick, error) {
	clickID = strings.TrimSpace(clickID)
	if clickID == "" {
		return nil, nil
	}
	click, err := s.repo.GetClick(ctx, clickID)
	if err != nil {
		return nil, err
	}
	if click == nil || click.ReferrerID != referrerID || click.Converted {
		return nil, nil
	}
	if click.Status == domain.StatusExpired || s.now().After(click.ExpiresAt) {
		return nil, nil
	}
	return click, nil
}

// ReviewSignup settles a signup that was held for manual review. Approval
// makes it claimable; rejection blocks it and zeroes its reward.
func (s *ReferralService) ReviewSignup(ctx context.Context, signupID int64, approve bool, notes string) (*domain.ReferralSignup, error) {
	var signup *domain.ReferralSignup
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		signup, err = s.repo.GetSignup(ctx, signupID)
		if err != nil {
			return err
		}
		if signup == nil {
			return domain.ErrNotFound
		}
		if signup.Status != domain.StatusPending || signup.Verified || signup.Claimed {
			return domain.ErrNotReviewable
		}

		if approve {
			signup.Verified = true
			signup.Status = domain.StatusCompleted
		} else {
			signup.Status = domain.StatusBlocked
			signup.BlockReason = rejectedReason
			signup.SignupReward = 0
			signup.TierBonus = 0
			signup.TotalReward = 0
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			signup.VerificationNotes = notes
		}
		signup.UpdatedAt = s.now()
		return s.repo.UpdateSignupReview(ctx, signup)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("referral signup reviewed",
		zap.Int64("signup_id", signup.ID),
		zap.Bool("approved", approve),
	)
	s.refresh(signup.ReferrerID)
	return signup, nil
}

// GetReferredUsers pages through the accounts a user has referred
func (s *ReferralService) GetReferredUsers(ctx context.Context, userID int64, page, limit int) ([]domain.ReferredUser, int64, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, 0, err
	}
	limit, offset := pageBounds(page, limit)

	users, err := s.repo.ListReferredUsers(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountReferredUsers(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetTier reports the user's current tier from their verified signups
func (s *ReferralService) GetTier(ctx context.Context, userID int64) (*domain.Tier, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	verified, err := s.repo.CountVerifiedSignups(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier := domain.TierFor(verified)
	return &tier, nil
}
