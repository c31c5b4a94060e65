// Package postgres implements the credential store and an audit sink on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/membrane-auth/membrane"
)

// updateRetries bounds the optimistic-concurrency retry loop in Update.
const updateRetries = 5

// DB wraps a *sql.DB and implements membrane.CredentialStore.
type DB struct {
	sql *sql.DB
}

var _ membrane.CredentialStore = (*DB)(nil)

// Open connects, pings, and runs migrations.
func Open(connStr string) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			normalized_email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			security_stamp TEXT NOT NULL,
			failed_attempts INT NOT NULL DEFAULT 0,
			lockout_until TIMESTAMPTZ,
			two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			two_factor_secret BYTEA,
			two_factor_pending_secret BYTEA,
			last_password_changed_at TIMESTAMPTZ,
			password_expires_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS password_history (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_password_history_account ON password_history(account_id, id DESC);",
		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL,
			account_id TEXT,
			actor_email TEXT,
			source_address TEXT,
			success BOOLEAN NOT NULL,
			detail TEXT
		);`,
		"CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events(account_id, occurred_at);",
	}

	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const accountColumns = `id, normalized_email, password_hash, security_stamp,
	failed_attempts, lockout_until, two_factor_enabled, two_factor_secret,
	two_factor_pending_secret, last_password_changed_at, password_expires_at,
	version, created_at`

// Create inserts a new account. A duplicate ID or email reports
// membrane.ErrAccountExists.
func (d *DB) Create(ctx context.Context, account membrane.Account) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		account.ID,
		account.NormalizedEmail,
		account.PasswordHash,
		account.SecurityStamp,
		account.FailedAttempts,
		nullTime(account.LockoutUntil),
		account.TwoFactorEnabled,
		account.TwoFactorSecret,
		account.TwoFactorPendingSecret,
		nullTime(account.LastPasswordChangedAt),
		nullTime(account.PasswordExpiresAt),
		account.Version,
		account.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return membrane.ErrAccountExists
		}
		return fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (d *DB) GetByID(ctx context.Context, accountID string) (membrane.Account, error) {
	return d.getAccount(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

// GetByEmail retrieves an account by normalized email.
func (d *DB) GetByEmail(ctx context.Context, normalizedEmail string) (membrane.Account, error) {
	return d.getAccount(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE normalized_email = $1`, normalizedEmail)
}

func (d *DB) getAccount(ctx context.Context, query, arg string) (membrane.Account, error) {
	var (
		a                     membrane.Account
		lockoutUntil          sql.NullTime
		lastPasswordChangedAt sql.NullTime
		passwordExpiresAt     sql.NullTime
	)
	err := d.sql.QueryRowContext(ctx, query, arg).Scan(
		&a.ID,
		&a.NormalizedEmail,
		&a.PasswordHash,
		&a.SecurityStamp,
		&a.FailedAttempts,
		&lockoutUntil,
		&a.TwoFactorEnabled,
		&a.TwoFactorSecret,
		&a.TwoFactorPendingSecret,
		&lastPasswordChangedAt,
		&passwordExpiresAt,
		&a.Version,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return membrane.Account{}, membrane.ErrAccountNotFound
	}
	if err != nil {
		return membrane.Account{}, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
	}

	a.LockoutUntil = fromNullTime(lockoutUntil)
	a.LastPasswordChangedAt = fromNullTime(lastPasswordChangedAt)
	a.PasswordExpiresAt = fromNullTime(passwordExpiresAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// Update applies mutate to a fresh snapshot and commits with a
// version-conditioned UPDATE. A lost race re-reads and retries; mutate
// must therefore be idempotent over its snapshot, which every engine
// transition is.
func (d *DB) Update(ctx context.Context, accountID string, mutate func(*membrane.Account) error) (membrane.Account, error) {
	for attempt := 0; attempt < updateRetries; attempt++ {
		account, err := d.GetByID(ctx, accountID)
		if err != nil {
			return membrane.Account{}, err
		}

		next := account
		if err := mutate(&next); err != nil {
			return membrane.Account{}, err
		}
		next.Version = account.Version + 1

		result, err := d.sql.ExecContext(ctx,
			`UPDATE accounts SET
				password_hash = $1,
				security_stamp = $2,
				failed_attempts = $3,
				lockout_until = $4,
				two_factor_enabled = $5,
				two_factor_secret = $6,
				two_factor_pending_secret = $7,
				last_password_changed_at = $8,
				password_expires_at = $9,
				version = $10
			 WHERE id = $11 AND version = $12`,
			next.PasswordHash,
			next.SecurityStamp,
			next.FailedAttempts,
			nullTime(next.LockoutUntil),
			next.TwoFactorEnabled,
			next.TwoFactorSecret,
			next.TwoFactorPendingSecret,
			nullTime(next.LastPasswordChangedAt),
			nullTime(next.PasswordExpiresAt),
			next.Version,
			accountID,
			account.Version,
		)
		if err != nil {
			return membrane.Account{}, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return membrane.Account{}, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
		}
		if affected == 1 {
			return next, nil
		}
		// Version moved underneath us; re-read and retry.
	}

	return membrane.Account{}, fmt.Errorf("%w: account update contention", membrane.ErrStorageUnavailable)
}

// AppendHistory records one prior password hash.
func (d *DB) AppendHistory(ctx context.Context, entry membrane.PasswordHistoryEntry) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO password_history (account_id, password_hash, created_at) VALUES ($1, $2, $3)",
		entry.AccountID, entry.PasswordHash, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
	}
	return nil
}

// RecentHistory returns up to depth entries, newest first.
func (d *DB) RecentHistory(ctx context.Context, accountID string, depth int) ([]membrane.PasswordHistoryEntry, error) {
	if depth <= 0 {
		return nil, nil
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT account_id, password_hash, created_at FROM password_history WHERE account_id = $1 ORDER BY id DESC LIMIT $2",
		accountID, depth,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var entries []membrane.PasswordHistoryEntry
	for rows.Next() {
		var e membrane.PasswordHistoryEntry
		if err := rows.Scan(&e.AccountID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", membrane.ErrStorageUnavailable, err)
	}
	return entries, nil
}

// AuditSink writes audit events into the audit_events table. The table
// is append-only; nothing in this package updates or deletes rows.
type AuditSink struct {
	db *DB
}

var _ membrane.AuditSink = (*AuditSink)(nil)

// NewAuditSink wraps a DB as an audit sink.
func NewAuditSink(db *DB) *AuditSink {
	return &AuditSink{db: db}
}

// Record appends one event.
func (s *AuditSink) Record(ctx context.Context, event membrane.AuditEvent) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO audit_events (occurred_at, action, account_id, actor_email, source_address, success, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Timestamp,
		string(event.Action),
		event.AccountID,
		event.ActorEmail,
		event.SourceAddress,
		event.Success,
		event.Detail,
	)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
