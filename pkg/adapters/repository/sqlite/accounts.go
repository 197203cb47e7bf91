package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

const accountColumns = `id, username, COALESCE(email, ''), referral_code, balance, status, created_at`

// CreateAccount registers a dashboard user. Username, email and referral
// code are unique.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	query := `INSERT INTO accounts (username, email, referral_code, balance, status, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?) RETURNING id`
	err := r.conn(ctx).QueryRowContext(ctx, query,
		a.Username, strings.ToLower(strings.TrimSpace(a.Email)), a.ReferralCode, a.Balance, string(a.Status), toMillis(a.CreatedAt),
	).Scan(&a.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account already exists", domain.ErrInvalidInput)
	}
	return err
}

// SetAccountStatus bans, deletes or reactivates an account
func (r *SQLiteRepository) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE accounts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetUserByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = ?`, code)
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *SQLiteRepository) getAccount(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var (
		a         domain.Account
		status    string
		createdAt int64
	)
	err := r.conn(ctx).QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Username, &a.Email, &a.ReferralCode, &a.Balance, &status, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Status = domain.AccountStatus(status)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

// Credit adds amount to the user's balance and appends a ledger row. It joins
// the caller's transaction when there is one.
func (r *SQLiteRepository) Credit(ctx context.Context, userID, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", domain.ErrInvalidInput)
	}
	return r.WithinTx(ctx, func(ctx context.Context) error {
		var after int64
		err := r.conn(ctx).QueryRowContext(ctx,
			`UPDATE accounts SET balance = balance + ? WHERE id = ? AND status != 'deleted' RETURNING balance`,
			amount, userID,
		).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		_, err = r.conn(ctx).ExecContext(ctx,
			`INSERT INTO balance_transactions (user_id, amount, reason, balance_before, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			userID, amount, reason, after-amount, after, toMillis(time.Now()),
		)
		return err
	})
}

// ListBalanceTransactions returns the user's credit ledger, newest first
func (r *SQLiteRepository) ListBalanceTransactions(ctx context.Context, userID int64) ([]domain.BalanceTransaction, error) {
	rows, err := r.conn(ctx).QueryContext(ctx,
		`SELECT id, user_id, amount, reason, balance_before, balance_after, created_at
		FROM balance_transactions WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []domain.BalanceTransaction{}
	for rows.Next() {
		var (
			t         domain.BalanceTransaction
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.BalanceBefore, &t.BalanceAfter, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = fromMillis(createdAt)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
