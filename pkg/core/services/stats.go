package services

import (
	"context"
	"fmt"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

// RebuildStats recomputes the user's snapshot from the click and signup rows
// and replaces the stored document.
func (s *ReferralService) RebuildStats(ctx context.Context, userID int64) (*domain.ReferralStats, error) {
	now := s.now()
	counts, err := s.stats.AggregateStats(ctx, userID, domain.WindowsAt(now, s.loc))
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	stats := domain.BuildStats(userID, *counts, now)
	if err := s.stats.UpsertStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	return stats, nil
}

// GetUserStats returns the stored snapshot, building it on first access
func (s *ReferralService) GetUserStats(ctx context.Context, userID int64) (*domain.ReferralStats, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	stats, err := s.stats.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stats != nil {
		return stats, nil
	}
	return s.RebuildStats(ctx, userID)
}

// RebuildAllStats rebuilds every referrer's snapshot. It keeps going past
// individual failures and returns how many succeeded along with the first error.
func (s *ReferralService) RebuildAllStats(ctx context.Context) (int, error) {
	ids, err := s.stats.ListReferrerIDs(ctx)
	if err != nil {
		return 0, err
	}
	var firstErr error
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.RebuildStats(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("user %d: %w", id, err)
			}
			continue
		}
		done++
	}
	return done, firstErr
}
