package domain

import "time"

// ReferralStatus is the lifecycle state of a click or signup record
type ReferralStatus string

const (
	StatusPending   ReferralStatus = "pending"
	StatusCompleted ReferralStatus = "completed"
	StatusBlocked   ReferralStatus = "blocked"
	StatusClaimed   ReferralStatus = "claimed"
	StatusExpired   ReferralStatus = "expired"
)

// DeviceInfo is what the browser tells us about itself
type DeviceInfo struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	Browser          string `json:"browser"`
	OS               string `json:"os"`
	DeviceType       string `json:"device_type"`
}

// SecurityContext is the request snapshot every click/signup is evaluated against
type SecurityContext struct {
	IPAddress string     `json:"ip_address"`
	Device    DeviceInfo `json:"device"`
}

// SecuritySnapshot is the evaluated security state frozen on a record
type SecuritySnapshot struct {
	IPAddress   string     `json:"ip_address"`
	Device      DeviceInfo `json:"device"`
	Fingerprint string     `json:"fingerprint"`
	RiskScore   int        `json:"risk_score"`
	Suspicious  bool       `json:"suspicious"`
	BlockReason string     `json:"block_reason,omitempty"`
}

// ReferralClick is one attempt to follow a referral link
type ReferralClick struct {
	ID           string `json:"click_id"`
	ReferrerID   int64  `json:"referrer_id"`
	ReferralCode string `json:"referral_code"`
	SecuritySnapshot

	ClickReward     int64  `json:"click_reward"`
	TotalReward     int64  `json:"total_reward"`
	Converted       bool   `json:"converted"`
	ConvertedUserID *int64 `json:"converted_user_id,omitempty"`

	Status    ReferralStatus `json:"status"`
	Claimed   bool           `json:"claimed"`
	ClaimedAt *time.Time     `json:"claimed_at,omitempty"`

	ClickedAt time.Time `json:"clicked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimable reports whether the click would be picked up by a claim right now
func (c *ReferralClick) Claimable() bool {
	return !c.Claimed && c.Status != StatusBlocked
}

// ReferralSignup is a referred account registration. One per referred user, ever.
type ReferralSignup struct {
	ID             int64  `json:"id"`
	ReferrerID     int64  `json:"referrer_id"`
	ReferredUserID int64  `json:"referred_user_id"`
	ReferralCode   string `json:"referral_code"`
	ClickID        string `json:"click_id,omitempty"`
	SecuritySnapshot

	SignupReward int64 `json:"signup_reward"`
	TierBonus    int64 `json:"tier_bonus"`
	TotalReward  int64 `json:"total_reward"`

	Verified          bool   `json:"verified"`
	VerificationNotes string `json:"verification_notes,omitempty"`

	Status    ReferralStatus `json:"status"`
	Claimed   bool           `json:"claimed"`
	ClaimedAt *time.Time     `json:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimable reports whether the signup would be picked up by a claim right now
func (s *ReferralSignup) Claimable() bool {
	return !s.Claimed && s.Verified && s.Status != StatusBlocked
}

// ClickResult is returned by click ingestion. Blocked clicks are still a success.
type ClickResult struct {
	Success bool           `json:"success"`
	Blocked bool           `json:"blocked"`
	Reason  string         `json:"reason,omitempty"`
	Reward  int64          `json:"reward"`
	Click   *ReferralClick `json:"click"`
}

// SignupResult is returned by signup attribution
type SignupResult struct {
	Success        bool            `json:"success"`
	Blocked        bool            `json:"blocked"`
	Reason         string          `json:"reason,omitempty"`
	Reward         int64           `json:"reward"`
	RequiresReview bool            `json:"requires_review"`
	Signup         *ReferralSignup `json:"signup"`
}

// ReferredUser is a row of the referrer's "who did I bring in" list
type ReferredUser struct {
	SignupID    int64          `json:"signup_id"`
	UserID      int64          `json:"user_id"`
	Username    string         `json:"username"`
	Status      ReferralStatus `json:"status"`
	Verified    bool           `json:"verified"`
	TotalReward int64          `json:"total_reward"`
	Claimed     bool           `json:"claimed"`
	BlockReason string         `json:"block_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
