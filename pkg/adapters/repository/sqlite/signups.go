package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

const signupColumns = `id, referrer_id, referred_user_id, referral_code, click_id, ip_address,
	user_agent, screen_resolution, timezone, language, platform, browser, os, device_type,
	fingerprint, risk_score, suspicious, block_reason,
	signup_reward, tier_bonus, total_reward, verified, verification_notes,
	status, claimed, claimed_at, created_at, updated_at`

func (r *SQLiteRepository) CreateSignup(ctx context.Context, s *domain.ReferralSignup) error {
	query := `INSERT INTO referral_signups (
		referrer_id, referred_user_id, referral_code, click_id, ip_address,
		user_agent, screen_resolution, timezone, language, platform, browser, os, device_type,
		fingerprint, risk_score, suspicious, block_reason,
		signup_reward, tier_bonus, total_reward, verified, verification_notes,
		status, claimed, claimed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	d := s.Device
	err := r.conn(ctx).QueryRowContext(ctx, query,
		s.ReferrerID, s.ReferredUserID, s.ReferralCode, s.ClickID, s.IPAddress,
		d.UserAgent, d.ScreenResolution, d.Timezone, d.Language, d.Platform, d.Browser, d.OS, d.DeviceType,
		s.Fingerprint, s.RiskScore, s.Suspicious, s.BlockReason,
		s.SignupReward, s.TierBonus, s.TotalReward, s.Verified, s.VerificationNotes,
		string(s.Status), s.Claimed, nullableMillis(s.ClaimedAt), toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	).Scan(&s.ID)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateSignup
	}
	return err
}

func (r *SQLiteRepository) GetSignup(ctx context.Context, id int64) (*domain.ReferralSignup, error) {
	return r.getSignup(ctx, `SELECT `+signupColumns+` FROM referral_signups WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetSignupByReferredUser(ctx context.Context, referredUserID int64) (*domain.ReferralSignup, error) {
	return r.getSignup(ctx, `SELECT `+signupColumns+` FROM referral_signups WHERE referred_user_id = ?`, referredUserID)
}

func (r *SQLiteRepository) getSignup(ctx context.Context, query string, arg any) (*domain.ReferralSignup, error) {
	s, err := scanSignup(r.conn(ctx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// UpdateSignupReview writes the outcome of a manual review. Only a pending,
// unverified, unclaimed signup can be reviewed.
func (r *SQLiteRepository) UpdateSignupReview(ctx context.Context, s *domain.ReferralSignup) error {
	query := `UPDATE referral_signups
		SET verified = ?, status = ?, block_reason = ?,
			signup_reward = ?, tier_bonus = ?, total_reward = ?,
			verification_notes = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND verified = 0 AND claimed = 0`
	res, err := r.conn(ctx).ExecContext(ctx, query,
		s.Verified, string(s.Status), s.BlockReason,
		s.SignupReward, s.TierBonus, s.TotalReward,
		s.VerificationNotes, toMillis(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotReviewable
	}
	return nil
}

func (r *SQLiteRepository) CountSignupsByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_signups WHERE ip_address = ? AND created_at >= ?`, ip, toMillis(since))
}

func (r *SQLiteRepository) CountSignupsByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_signups WHERE fingerprint = ? AND created_at >= ?`, fingerprint, toMillis(since))
}

func (r *SQLiteRepository) CountVerifiedSignups(ctx context.Context, referrerID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_signups WHERE referrer_id = ? AND verified = 1 AND status != 'blocked'`, referrerID)
}

func (r *SQLiteRepository) ListReferredUsers(ctx context.Context, referrerID int64, limit, offset int) ([]domain.ReferredUser, error) {
	query := `SELECT s.id, s.referred_user_id, COALESCE(a.username, ''), s.status, s.verified,
			s.total_reward, s.claimed, s.block_reason, s.created_at
		FROM referral_signups s
		LEFT JOIN accounts a ON a.id = s.referred_user_id
		WHERE s.referrer_id = ?
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.conn(ctx).QueryContext(ctx, query, referrerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.ReferredUser{}
	for rows.Next() {
		var (
			u         domain.ReferredUser
			status    string
			createdAt int64
		)
		if err := rows.Scan(&u.SignupID, &u.UserID, &u.Username, &status, &u.Verified,
			&u.TotalReward, &u.Claimed, &u.BlockReason, &createdAt); err != nil {
			return nil, err
		}
		u.Status = domain.ReferralStatus(status)
		u.CreatedAt = fromMillis(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) CountReferredUsers(ctx context.Context, referrerID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM referral_signups WHERE referrer_id = ?`, referrerID)
}

func (r *SQLiteRepository) ClaimSignups(ctx context.Context, referrerID int64, at time.Time) (domain.ClaimTally, error) {
	query := `UPDATE referral_signups
		SET claimed = 1, claimed_at = ?, status = 'claimed', updated_at = ?
		WHERE referrer_id = ? AND claimed = 0 AND verified = 1 AND status != 'blocked'
		RETURNING total_reward`
	ms := toMillis(at)
	return r.claim(ctx, query, ms, ms, referrerID)
}

func (r *SQLiteRepository) DumpSignups(ctx context.Context) ([]domain.ReferralSignup, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+signupColumns+` FROM referral_signups ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signups := []domain.ReferralSignup{}
	for rows.Next() {
		s, err := scanSignup(rows)
		if err != nil {
			return nil, err
		}
		signups = append(signups, *s)
	}
	return signups, rows.Err()
}

func scanSignup(sc rowScanner) (*domain.ReferralSignup, error) {
	var (
		s                    domain.ReferralSignup
		status               string
		claimedAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := sc.Scan(
		&s.ID, &s.ReferrerID, &s.ReferredUserID, &s.ReferralCode, &s.ClickID, &s.IPAddress,
		&s.Device.UserAgent, &s.Device.ScreenResolution, &s.Device.Timezone, &s.Device.Language,
		&s.Device.Platform, &s.Device.Browser, &s.Device.OS, &s.Device.DeviceType,
		&s.Fingerprint, &s.RiskScore, &s.Suspicious, &s.BlockReason,
		&s.SignupReward, &s.TierBonus, &s.TotalReward, &s.Verified, &s.VerificationNotes,
		&status, &s.Claimed, &claimedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.ReferralStatus(status)
	s.ClaimedAt = timePtr(claimedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}
