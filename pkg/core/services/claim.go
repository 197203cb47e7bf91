package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

// Claim credits every outstanding reward of the user exactly once. Marking
// rows claimed and crediting the balance share one transaction, so a failed
// credit leaves the rows claimable. Calling it again with nothing outstanding
// is a zero-amount success.
func (s *ReferralService) Claim(ctx context.Context, userID int64, claimType domain.ClaimType) (*domain.ClaimResult, error) {
	claimType, err := domain.ParseClaimType(string(claimType))
	if err != nil {
		return nil, err
	}
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	now := s.now()
	res := &domain.ClaimResult{
		Success:   true,
		Type:      claimType,
		ClaimedAt: now,
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if claimType.IncludesClicks() {
			tally, err := s.repo.ClaimClicks(ctx, userID, now)
			if err != nil {
				return fmt.Errorf("claim clicks: %w", err)
			}
			res.ClicksClaimed, res.ClickAmount = tally.Count, tally.Amount
		}
		if claimType.IncludesSignups() {
			tally, err := s.repo.ClaimSignups(ctx, userID, now)
			if err != nil {
				return fmt.Errorf("claim signups: %w", err)
			}
			res.SignupsClaimed, res.SignupAmount = tally.Count, tally.Amount
		}

		res.TotalClaimed = res.ClickAmount + res.SignupAmount
		if res.TotalClaimed > 0 {
			reason := fmt.Sprintf("referral rewards (%s): %d clicks, %d signups", claimType, res.ClicksClaimed, res.SignupsClaimed)
			if err := s.accounts.Credit(ctx, userID, res.TotalClaimed, reason); err != nil {
				// A vanished account will not come back on retry
				if errors.Is(err, domain.ErrUserNotFound) {
					return err
				}
				return fmt.Errorf("%w: %v", domain.ErrCreditFailed, err)
			}
		}

		// Read under the lock so the balance reflects every earlier claim
		user, err := s.accounts.GetUserByID(ctx, userID)
		switch {
		case err != nil && res.TotalClaimed > 0:
			return fmt.Errorf("%w: reload balance: %v", domain.ErrCreditFailed, err)
		case err != nil:
			return fmt.Errorf("reload balance: %w", err)
		case user == nil:
			return domain.ErrUserNotFound
		}
		res.NewBalance = user.Balance
		return nil
	})
	if err != nil {
		s.logger.Error("referral claim failed",
			zap.Int64("user_id", userID),
			zap.String("type", string(claimType)),
			zap.Error(err),
		)
		return nil, err
	}

	if res.ClicksClaimed+res.SignupsClaimed == 0 {
		return res, nil
	}

	s.metrics.ObserveClaim(string(claimType), res.TotalClaimed)
	s.logger.Info("referral rewards claimed",
		zap.Int64("user_id", userID),
		zap.Int64("amount", res.TotalClaimed),
		zap.Int("clicks", res.ClicksClaimed),
		zap.Int("signups", res.SignupsClaimed),
	)
	s.refresh(userID)
	return res, nil
}
