// Package postgres implements authcore.AccountStore on a pgx connection
// pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireloop/authcore"
)

// Store is a Postgres-backed account store. See schema.sql for the
// expected tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool. The pool's lifecycle stays with the
// caller.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `id, tenant_id, email, password_hash, active,
	mfa_enabled, mfa_secret, totp_last_step, created_at, last_login_at`

func scanAccount(row pgx.Row) (authcore.AccountRecord, error) {
	var acc authcore.AccountRecord
	var lastLogin *time.Time
	err := row.Scan(
		&acc.ID, &acc.TenantID, &acc.Email, &acc.PasswordHash, &acc.Active,
		&acc.MFAEnabled, &acc.MFASecret, &acc.TOTPLastStep, &acc.CreatedAt, &lastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return authcore.AccountRecord{}, authcore.ErrAccountNotFound
	}
	if err != nil {
		return authcore.AccountRecord{}, fmt.Errorf("postgres: scan account: %w", err)
	}
	if lastLogin != nil {
		acc.LastLoginAt = *lastLogin
	}
	return acc, nil
}

func (s *Store) GetByEmail(ctx context.Context, tenantID, email string) (authcore.AccountRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE tenant_id = $1 AND lower(email) = lower($2)`,
		tenantID, email)
	return scanAccount(row)
}

func (s *Store) GetByID(ctx context.Context, accountID string) (authcore.AccountRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	return s.exec(ctx,
		`UPDATE accounts SET password_hash = $2 WHERE id = $1`, accountID, hash)
}

func (s *Store) UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return s.exec(ctx,
		`UPDATE accounts SET last_login_at = $2 WHERE id = $1`, accountID, at)
}

func (s *Store) SetMFASecret(ctx context.Context, accountID string, sealed []byte) error {
	return s.exec(ctx,
		`UPDATE accounts SET mfa_secret = $2, mfa_enabled = true, totp_last_step = 0
		 WHERE id = $1`, accountID, sealed)
}

func (s *Store) ClearMFA(ctx context.Context, accountID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET mfa_secret = NULL, mfa_enabled = false, totp_last_step = 0
		 WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("postgres: clear mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("postgres: clear backup codes: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateTOTPLastStep(ctx context.Context, accountID string, step int64) error {
	// Monotonic guard so a racing older step never rewinds the watermark.
	return s.exec(ctx,
		`UPDATE accounts SET totp_last_step = GREATEST(totp_last_step, $2)
		 WHERE id = $1`, accountID, step)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, codes []authcore.BackupCodeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("postgres: replace backup codes: %w", err)
	}
	for _, c := range codes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2)`,
			accountID, c.Hash[:]); err != nil {
			return fmt.Errorf("postgres: replace backup codes: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetBackupCodes(ctx context.Context, accountID string) ([]authcore.BackupCodeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code_hash FROM backup_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get backup codes: %w", err)
	}
	defer rows.Close()

	var out []authcore.BackupCodeRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: get backup codes: %w", err)
		}
		var rec authcore.BackupCodeRecord
		copy(rec.Hash[:], raw)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	// Single conditional DELETE, so two concurrent uses of the same code
	// cannot both succeed.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`,
		accountID, hash[:])
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}
