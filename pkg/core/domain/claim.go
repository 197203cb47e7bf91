package domain

import "time"

// ClaimType selects which record kinds a claim sweeps up
type ClaimType string

const (
	ClaimClicks  ClaimType = "clicks"
	ClaimSignups ClaimType = "signups"
	ClaimAll     ClaimType = "all"
)

// ParseClaimType accepts "clicks", "signups" or "all". Empty means all.
func ParseClaimType(s string) (ClaimType, error) {
	switch ClaimType(s) {
	case "":
		return ClaimAll, nil
	case ClaimClicks, ClaimSignups, ClaimAll:
		return ClaimType(s), nil
	}
	return "", ErrInvalidClaimType
}

func (t ClaimType) IncludesClicks() bool  { return t == ClaimClicks || t == ClaimAll }
func (t ClaimType) IncludesSignups() bool { return t == ClaimSignups || t == ClaimAll }

// ClaimTally is what a single bulk mark-claimed statement swept up
type ClaimTally struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// ClaimResult is the outcome of a claim call
type ClaimResult struct {
	Success        bool      `json:"success"`
	Type           ClaimType `json:"type"`
	TotalClaimed   int64     `json:"total_claimed"`
	ClicksClaimed  int       `json:"clicks_claimed"`
	ClickAmount    int64     `json:"click_amount"`
	SignupsClaimed int       `json:"signups_claimed"`
	SignupAmount   int64     `json:"signup_amount"`
	NewBalance     int64     `json:"new_balance"`
	ClaimedAt      time.Time `json:"claimed_at"`
}
