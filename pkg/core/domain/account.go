package domain

import "time"

// AccountStatus mirrors the state the user-account system keeps for a user
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBanned  AccountStatus = "banned"
	AccountDeleted AccountStatus = "deleted"
)

// Account is the slice of a dashboard user the referral engine needs
type Account struct {
	ID           int64         `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	ReferralCode string        `json:"referral_code"`
	Balance      int64         `json:"balance"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Active reports whether the account may earn referral rewards
func (a *Account) Active() bool {
	return a.Status == "" || a.Status == AccountActive
}

// BalanceTransaction is one entry of the account credit ledger
type BalanceTransaction struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}
