package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockReasonPriority(t *testing.T) {
	click := DefaultPolicy().Click

	require.Empty(t, click.BlockReason("clicks", WindowCounts{IPHour: 10, IPDay: 50, FingerprintDay: 20}, 80))
	require.Equal(t, "Too many clicks per hour from this IP",
		click.BlockReason("clicks", WindowCounts{IPHour: 11, IPDay: 99, FingerprintDay: 99}, 100))
	require.Equal(t, "Too many clicks per day from this IP",
		click.BlockReason("clicks", WindowCounts{IPHour: 1, IPDay: 51, FingerprintDay: 99}, 100))
	require.Equal(t, "Too many clicks from this device",
		click.BlockReason("clicks", WindowCounts{IPHour: 1, IPDay: 1, FingerprintDay: 21}, 100))
	require.Equal(t, "High risk score detected",
		click.BlockReason("clicks", WindowCounts{IPHour: 1, IPDay: 1, FingerprintDay: 1}, 81))

	signup := DefaultPolicy().Signup
	require.Equal(t, "Too many signups per hour from this IP",
		signup.BlockReason("signups", WindowCounts{IPHour: 3}, 0))
	require.Equal(t, "High risk score detected",
		signup.BlockReason("signups", WindowCounts{IPHour: 1, IPDay: 1, FingerprintDay: 1}, 71))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.ClickReward = -1
	require.True(t, errors.Is(p.Validate(), ErrInvalidInput))

	p = DefaultPolicy()
	p.ClickExpiry = 0
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Signup.MaxRiskScore = 101
	require.Error(t, p.Validate())
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, "INVALID_CODE", ErrorCode(ErrInvalidCode))
	require.Equal(t, "DUPLICATE_SIGNUP", ErrorCode(errors.Join(errors.New("insert"), ErrDuplicateSignup)))
	require.Equal(t, "INTERNAL_ERROR", ErrorCode(errors.New("boom")))
	require.True(t, IsConflict(ErrDuplicateSignup))
	require.False(t, IsValidation(ErrDuplicateSignup))
	require.True(t, IsRetryable(ErrCreditFailed))
}
