package domain

import "time"

// StatsWindows are the bucket boundaries used when rebuilding stats
type StatsWindows struct {
	DayStart   time.Time
	WeekStart  time.Time
	MonthStart time.Time
}

// WindowsAt computes bucket boundaries relative to now in loc: today since
// local midnight, week as the trailing 7 days, month since the 1st.
func WindowsAt(now time.Time, loc *time.Location) StatsWindows {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return StatsWindows{
		DayStart:   time.Date(y, m, d, 0, 0, 0, 0, loc),
		WeekStart:  now.Add(-7 * 24 * time.Hour),
		MonthStart: time.Date(y, m, 1, 0, 0, 0, 0, loc),
	}
}

// StatsCounts are the raw aggregates the store computes for one referrer
type StatsCounts struct {
	ClicksToday  int64
	ClicksWeek   int64
	ClicksMonth  int64
	TotalClicks  int64
	UniqueClicks int64

	SignupsToday    int64
	SignupsWeek     int64
	SignupsMonth    int64
	TotalSignups    int64
	VerifiedSignups int64

	// Sums exclude blocked records
	ClickEarnings    int64
	SignupEarnings   int64
	PendingEarnings  int64
	ClaimedEarnings  int64
	ClaimableRewards int64

	SuspiciousCount int64
	BlockedCount    int64
}

// ReferralStats is the per-user snapshot. It is derived and can be rebuilt at any time.
type ReferralStats struct {
	UserID int64 `json:"user_id"`

	ClicksToday  int64 `json:"clicks_today"`
	ClicksWeek   int64 `json:"clicks_week"`
	ClicksMonth  int64 `json:"clicks_month"`
	TotalClicks  int64 `json:"total_clicks"`
	UniqueClicks int64 `json:"unique_clicks"`

	SignupsToday    int64 `json:"signups_today"`
	SignupsWeek     int64 `json:"signups_week"`
	SignupsMonth    int64 `json:"signups_month"`
	TotalSignups    int64 `json:"total_signups"`
	VerifiedSignups int64 `json:"verified_signups"`

	ConversionRate float64 `json:"conversion_rate"`

	TotalEarnings     int64 `json:"total_earnings"`
	PendingEarnings   int64 `json:"pending_earnings"`
	ClaimedEarnings   int64 `json:"claimed_earnings"`
	ClaimableEarnings int64 `json:"claimable_earnings"`

	CurrentTier  TierName `json:"current_tier"`
	TierProgress float64  `json:"tier_progress"`

	SuspiciousCount int64   `json:"suspicious_count"`
	BlockedCount    int64   `json:"blocked_count"`
	FraudScore      float64 `json:"fraud_score"`

	UpdatedAt time.Time `json:"updated_at"`
}

// BuildStats derives the snapshot from raw counts
func BuildStats(userID int64, c StatsCounts, at time.Time) *ReferralStats {
	tier := TierFor(c.VerifiedSignups)
	s := &ReferralStats{
		UserID:            userID,
		ClicksToday:       c.ClicksToday,
		ClicksWeek:        c.ClicksWeek,
		ClicksMonth:       c.ClicksMonth,
		TotalClicks:       c.TotalClicks,
		UniqueClicks:      c.UniqueClicks,
		SignupsToday:      c.SignupsToday,
		SignupsWeek:       c.SignupsWeek,
		SignupsMonth:      c.SignupsMonth,
		TotalSignups:      c.TotalSignups,
		VerifiedSignups:   c.VerifiedSignups,
		TotalEarnings:     c.ClickEarnings + c.SignupEarnings,
		PendingEarnings:   c.PendingEarnings,
		ClaimedEarnings:   c.ClaimedEarnings,
		ClaimableEarnings: c.ClaimableRewards,
		CurrentTier:       tier.Name,
		TierProgress:      tier.Progress,
		SuspiciousCount:   c.SuspiciousCount,
		BlockedCount:      c.BlockedCount,
		UpdatedAt:         at,
	}
	if c.TotalClicks > 0 {
		s.ConversionRate = float64(c.TotalSignups) / float64(c.TotalClicks) * 100
		s.FraudScore = float64(c.SuspiciousCount) / float64(c.TotalClicks) * 100
		if s.FraudScore > 100 {
			s.FraudScore = 100
		}
	}
	return s
}
