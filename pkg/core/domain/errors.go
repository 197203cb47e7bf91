package domain

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidCode      = errors.New("invalid referral code")
	ErrReferrerInactive = errors.New("referrer account is not active")
	ErrSelfReferral     = errors.New("users cannot refer themselves")
	ErrUserNotFound     = errors.New("user not found")
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateSignup  = errors.New("user has already been referred")
	ErrCreditFailed     = errors.New("balance credit failed")
	ErrInvalidClaimType = errors.New("claim type must be clicks, signups or all")
	ErrNotReviewable    = errors.New("signup is not awaiting review")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCode, "INVALID_CODE"},
	{ErrReferrerInactive, "REFERRER_INACTIVE"},
	{ErrSelfReferral, "SELF_REFERRAL"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrInvalidClaimType, "INVALID_CLAIM_TYPE"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrDuplicateSignup, "DUPLICATE_SIGNUP"},
	{ErrNotReviewable, "NOT_REVIEWABLE"},
	{ErrCreditFailed, "CREDIT_FAILED"},
}

// ErrorCode returns the stable API code for err, or INTERNAL_ERROR
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}

// IsValidation reports errors caused by bad caller input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrReferrerInactive) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrInvalidClaimType)
}

// IsConflict reports data-invariant violations such as a second signup for a referred user
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSignup) || errors.Is(err, ErrNotReviewable)
}

// IsRetryable reports dependency failures the caller may retry without side effects
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCreditFailed)
}
