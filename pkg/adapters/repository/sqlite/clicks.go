package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

const clickColumns = `id, referrer_id, referral_code, ip_address,
	user_agent, screen_resolution, timezone, language, platform, browser, os, device_type,
	fingerprint, risk_score, suspicious, block_reason,
	click_reward, total_reward, converted, converted_user_id,
	status, claimed, claimed_at, clicked_at, expires_at, created_at, updated_at`

func (r *SQLiteRepository) CreateClick(ctx context.Context, c *domain.ReferralClick) error {
	query := `INSERT INTO referral_clicks (` + clickColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var convertedUser sql.NullInt64
	if c.ConvertedUserID != nil {
		convertedUser = sql.NullInt64{Int64: *c.ConvertedUserID, Valid: true}
	}
	d := c.Device
	_, err := r.conn(ctx).ExecContext(ctx, query,
		c.ID, c.ReferrerID, c.ReferralCode, c.IPAddress,
		d.UserAgent, d.ScreenResolution, d.Timezone, d.Language, d.Platform, d.Browser, d.OS, d.DeviceType,
		c.Fingerprint, c.RiskScore, c.Suspicious, c.BlockReason,
		c.ClickReward, c.TotalReward, c.Converted, convertedUser,
		string(c.Status), c.Claimed, nullableMillis(c.ClaimedAt),
		toMillis(c.ClickedAt), toMillis(c.ExpiresAt), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	return err
}

func (r *SQLiteRepository) GetClick(ctx context.Context, id string) (*domain.ReferralClick, error) {
	row := r.conn(ctx).QueryRowContext(ctx, `SELECT `+clickColumns+` FROM referral_clicks WHERE id = ?`, id)
	c, err := scanClick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// MarkClickConverted links a click to the account it produced. A click
// converts at most once.
func (r *SQLiteRepository) MarkClickConverted(ctx context.Context, id string, referredUserID int64, at time.Time) error {
	query := `UPDATE referral_clicks
		SET converted = 1, converted_user_id = ?,
			status = CASE WHEN status = 'pending' THEN 'completed' ELSE status END,
			updated_at = ?
		WHERE id = ? AND converted = 0`
	_, err := r.conn(ctx).ExecContext(ctx, query, referredUserID, toMillis(at), id)
	return err
}

func (r *SQLiteRepository) CountClicksByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_clicks WHERE ip_address = ? AND created_at >= ?`, ip, toMillis(since))
}

func (r *SQLiteRepository) CountClicksByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_clicks WHERE fingerprint = ? AND created_at >= ?`, fingerprint, toMillis(since))
}

func (r *SQLiteRepository) ListClicks(ctx context.Context, referrerID int64, limit, offset int) ([]domain.ReferralClick, error) {
	query := `SELECT ` + clickColumns + ` FROM referral_clicks
		WHERE referrer_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.conn(ctx).QueryContext(ctx, query, referrerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectClicks(rows)
}

func (r *SQLiteRepository) CountClicks(ctx context.Context, referrerID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_clicks WHERE referrer_id = ?`, referrerID)
}

// ExpireClicks moves pending clicks past their conversion window to expired.
// Expired clicks keep their reward and stay claimable.
func (r *SQLiteRepository) ExpireClicks(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE referral_clicks SET status = 'expired', updated_at = ?
		WHERE status = 'pending' AND converted = 0 AND claimed = 0 AND expires_at < ?`
	res, err := r.conn(ctx).ExecContext(ctx, query, toMillis(now), toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ClaimClicks(ctx context.Context, referrerID int64, at time.Time) (domain.ClaimTally, error) {
	query := `UPDATE referral_clicks
		SET claimed = 1, claimed_at = ?, status = 'claimed', updated_at = ?
		WHERE referrer_id = ? AND claimed = 0 AND status != 'blocked'
		RETURNING total_reward`
	ms := toMillis(at)
	return r.claim(ctx, query, ms, ms, referrerID)
}

func (r *SQLiteRepository) DumpClicks(ctx context.Context) ([]domain.ReferralClick, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+clickColumns+` FROM referral_clicks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return collectClicks(rows)
}

func (r *SQLiteRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// claim runs a bulk mark-claimed statement and sums the rewards it returned
func (r *SQLiteRepository) claim(ctx context.Context, query string, args ...any) (domain.ClaimTally, error) {
	var tally domain.ClaimTally
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return tally, err
	}
	defer rows.Close()

	for rows.Next() {
		var reward int64
		if err := rows.Scan(&reward); err != nil {
			return domain.ClaimTally{}, err
		}
		tally.Count++
		tally.Amount += reward
	}
	if err := rows.Err(); err != nil {
		return domain.ClaimTally{}, err
	}
	return tally, nil
}

func collectClicks(rows *sql.Rows) ([]domain.ReferralClick, error) {
	defer rows.Close()

	clicks := []domain.ReferralClick{}
	for rows.Next() {
		c, err := scanClick(rows)
		if err != nil {
			return nil, err
		}
		clicks = append(clicks, *c)
	}
	return clicks, rows.Err()
}

func scanClick(s rowScanner) (*domain.ReferralClick, error) {
	var (
		c                                      domain.ReferralClick
		status                                 string
		convertedUser, claimedAt               sql.NullInt64
		clickedAt, expiresAt, createdAt, updAt int64
	)
	err := s.Scan(
		&c.ID, &c.ReferrerID, &c.ReferralCode, &c.IPAddress,
		&c.Device.UserAgent, &c.Device.ScreenResolution, &c.Device.Timezone, &c.Device.Language,
		&c.Device.Platform, &c.Device.Browser, &c.Device.OS, &c.Device.DeviceType,
		&c.Fingerprint, &c.RiskScore, &c.Suspicious, &c.BlockReason,
		&c.ClickReward, &c.TotalReward, &c.Converted, &convertedUser,
		&status, &c.Claimed, &claimedAt, &clickedAt, &expiresAt, &createdAt, &updAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.ReferralStatus(status)
	if convertedUser.Valid {
		id := convertedUser.Int64
		c.ConvertedUserID = &id
	}
	c.ClaimedAt = timePtr(claimedAt)
	c.ClickedAt = fromMillis(clickedAt)
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updAt)
	return &c, nil
}
