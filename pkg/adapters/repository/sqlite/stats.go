package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

// AggregateStats computes raw counts for one referrer straight from the
// click and signup rows. Reward sums leave blocked rows out.
func (r *SQLiteRepository) AggregateStats(ctx context.Context, userID int64, w domain.StatsWindows) (*domain.StatsCounts, error) {
	day, week, month := toMillis(w.DayStart), toMillis(w.WeekStart), toMillis(w.MonthStart)
	var c domain.StatsCounts

	clickQuery := `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT ip_address),
			COALESCE(SUM(CASE WHEN status != 'blocked' THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'blocked' AND claimed = 0 THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN claimed = 1 THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(suspicious), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0)
		FROM referral_clicks WHERE referrer_id = ?`
	var clickPending, clickClaimed, clickBlocked int64
	err := r.conn(ctx).QueryRowContext(ctx, clickQuery, day, week, month, userID).Scan(
		&c.TotalClicks, &c.ClicksToday, &c.ClicksWeek, &c.ClicksMonth, &c.UniqueClicks,
		&c.ClickEarnings, &clickPending, &clickClaimed, &c.SuspiciousCount, &clickBlocked,
	)
	if err != nil {
		return nil, err
	}

	signupQuery := `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verified = 1 AND status != 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'blocked' THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'blocked' AND claimed = 0 THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN claimed = 1 THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'blocked' AND claimed = 0 AND verified = 1 THEN total_reward ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0)
		FROM referral_signups WHERE referrer_id = ?`
	var signupPending, signupClaimed, signupClaimable, signupBlocked int64
	err = r.conn(ctx).QueryRowContext(ctx, signupQuery, day, week, month, userID).Scan(
		&c.TotalSignups, &c.SignupsToday, &c.SignupsWeek, &c.SignupsMonth, &c.VerifiedSignups,
		&c.SignupEarnings, &signupPending, &signupClaimed, &signupClaimable, &signupBlocked,
	)
	if err != nil {
		return nil, err
	}

	c.PendingEarnings = clickPending + signupPending
	c.ClaimedEarnings = clickClaimed + signupClaimed
	c.ClaimableRewards = clickPending + signupClaimable
	c.BlockedCount = clickBlocked + signupBlocked
	return &c, nil
}

// UpsertStats replaces the stored snapshot document for the user
func (r *SQLiteRepository) UpsertStats(ctx context.Context, s *domain.ReferralStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	query := `INSERT INTO referral_stats (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	_, err = r.conn(ctx).ExecContext(ctx, query, s.UserID, string(data), toMillis(s.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetStats(ctx context.Context, userID int64) (*domain.ReferralStats, error) {
	var data string
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT data FROM referral_stats WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s domain.ReferralStats
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListReferrerIDs returns every user that owns at least one click or signup
func (r *SQLiteRepository) ListReferrerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `
		SELECT referrer_id FROM referral_clicks
		UNION
		SELECT referrer_id FROM referral_signups
		ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
