package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	sqlitedriver "modernc.org/sqlite"                     // Local SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		// One connection: writers serialize and in-memory databases stay alive.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		referral_code TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balance_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY(user_id) REFERENCES accounts(id)
	);
	CREATE INDEX IF NOT EXISTS idx_balance_transactions_user ON balance_transactions(user_id);

	CREATE TABLE IF NOT EXISTS referral_clicks (
		id TEXT PRIMARY KEY,
		referrer_id INTEGER NOT NULL,
		referral_code TEXT NOT NULL,
		ip_address TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		screen_resolution TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		risk_score INTEGER NOT NULL DEFAULT 0,
		suspicious INTEGER NOT NULL DEFAULT 0,
		block_reason TEXT NOT NULL DEFAULT '',
		click_reward INTEGER NOT NULL DEFAULT 0,
		total_reward INTEGER NOT NULL DEFAULT 0,
		converted INTEGER NOT NULL DEFAULT 0,
		converted_user_id INTEGER,
		status TEXT NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		claimed_at INTEGER,
		clicked_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK (status != 'blocked' OR total_reward = 0)
	);
	CREATE INDEX IF NOT EXISTS idx_clicks_referrer ON referral_clicks(referrer_id, claimed);
	CREATE INDEX IF NOT EXISTS idx_clicks_ip ON referral_clicks(ip_address, created_at);
	CREATE INDEX IF NOT EXISTS idx_clicks_fingerprint ON referral_clicks(fingerprint, created_at);

	CREATE TABLE IF NOT EXISTS referral_signups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		referrer_id INTEGER NOT NULL,
		referred_user_id INTEGER NOT NULL UNIQUE,
		referral_code TEXT NOT NULL,
		click_id TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		screen_resolution TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		risk_score INTEGER NOT NULL DEFAULT 0,
		suspicious INTEGER NOT NULL DEFAULT 0,
		block_reason TEXT NOT NULL DEFAULT '',
		signup_reward INTEGER NOT NULL DEFAULT 0,
		tier_bonus INTEGER NOT NULL DEFAULT 0,
		total_reward INTEGER NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0,
		verification_notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		claimed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK (status != 'blocked' OR total_reward = 0)
	);
	CREATE INDEX IF NOT EXISTS idx_signups_referrer ON referral_signups(referrer_id, claimed);
	CREATE INDEX IF NOT EXISTS idx_signups_ip ON referral_signups(ip_address, created_at);
	CREATE INDEX IF NOT EXISTS idx_signups_fingerprint ON referral_signups(fingerprint, created_at);

	CREATE TABLE IF NOT EXISTS referral_stats (
		user_id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(query)
	return err
}

// querier is what *sql.DB and *sql.Tx have in common
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the pool
func (r *SQLiteRepository) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlitedriver.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	// libsql reports constraint failures as plain text
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ensure interface compliance
var (
	_ ports.ReferralRepository = (*SQLiteRepository)(nil)
	_ ports.StatsRepository    = (*SQLiteRepository)(nil)
	_ ports.AccountDirectory   = (*SQLiteRepository)(nil)
)
