package domain

import (
	"fmt"
	"time"
)

// WindowLimits are the sliding-window thresholds for one event kind. A count
// strictly greater than its limit blocks the event.
type WindowLimits struct {
	PerIPHour         int64 `yaml:"per_ip_hour" json:"per_ip_hour"`
	PerIPDay          int64 `yaml:"per_ip_day" json:"per_ip_day"`
	PerFingerprintDay int64 `yaml:"per_fingerprint_day" json:"per_fingerprint_day"`
	MaxRiskScore      int   `yaml:"max_risk_score" json:"max_risk_score"`
}

// WindowCounts are event attempts over the limiter windows, the current attempt included
type WindowCounts struct {
	IPHour         int64 `json:"ip_hour"`
	IPDay          int64 `json:"ip_day"`
	FingerprintDay int64 `json:"fingerprint_day"`
}

// BlockReason returns the first violated rule as a human readable reason, or "".
// noun is the plural event name used in the message ("clicks", "signups").
func (l WindowLimits) BlockReason(noun string, counts WindowCounts, riskScore int) string {
	switch {
	case counts.IPHour > l.PerIPHour:
		return fmt.Sprintf("Too many %s per hour from this IP", noun)
	case counts.IPDay > l.PerIPDay:
		return fmt.Sprintf("Too many %s per day from this IP", noun)
	case counts.FingerprintDay > l.PerFingerprintDay:
		return fmt.Sprintf("Too many %s from this device", noun)
	case riskScore > l.MaxRiskScore:
		return "High risk score detected"
	}
	return ""
}

// RewardPolicy holds reward amounts and anti-abuse thresholds. Amounts are
// copied onto each record when it is created.
type RewardPolicy struct {
	ClickReward         int64         `yaml:"click_reward" json:"click_reward"`
	SignupReward        int64         `yaml:"signup_reward" json:"signup_reward"`
	SuspiciousThreshold int           `yaml:"suspicious_threshold" json:"suspicious_threshold"`
	VerifyBelowRisk     int           `yaml:"verify_below_risk" json:"verify_below_risk"`
	ClickExpiry         time.Duration `yaml:"click_expiry" json:"click_expiry"`
	Click               WindowLimits  `yaml:"click" json:"click"`
	Signup              WindowLimits  `yaml:"signup" json:"signup"`
}

// DefaultPolicy is the production reward policy
func DefaultPolicy() RewardPolicy {
	return RewardPolicy{
		ClickReward:         15,
		SignupReward:        30,
		SuspiciousThreshold: 50,
		VerifyBelowRisk:     50,
		ClickExpiry:         24 * time.Hour,
		Click: WindowLimits{
			PerIPHour:         10,
			PerIPDay:          50,
			PerFingerprintDay: 20,
			MaxRiskScore:      80,
		},
		Signup: WindowLimits{
			PerIPHour:         2,
			PerIPDay:          5,
			PerFingerprintDay: 3,
			MaxRiskScore:      70,
		},
	}
}

// Validate rejects policies that would hand out negative rewards or never expire clicks
func (p RewardPolicy) Validate() error {
	if p.ClickReward < 0 || p.SignupReward < 0 {
		return fmt.Errorf("%w: rewards must not be negative", ErrInvalidInput)
	}
	if p.ClickExpiry <= 0 {
		return fmt.Errorf("%w: click expiry must be positive", ErrInvalidInput)
	}
	for name, l := range map[string]WindowLimits{"click": p.Click, "signup": p.Signup} {
		if l.PerIPHour < 0 || l.PerIPDay < 0 || l.PerFingerprintDay < 0 {
			return fmt.Errorf("%w: %s limits must not be negative", ErrInvalidInput, name)
		}
		if l.MaxRiskScore < 0 || l.MaxRiskScore > MaxRiskScore {
			return fmt.Errorf("%w: %s max risk score out of range", ErrInvalidInput, name)
		}
	}
	return nil
}
