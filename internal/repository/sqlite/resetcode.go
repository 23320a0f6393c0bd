package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/model"
)

// SaveResetCode stores a reset code, replacing any earlier code for the
// same email.
func (db *DB) SaveResetCode(ctx context.Context, c *model.ResetCode) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reset_codes (email, code, expires_at, verified)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			code = excluded.code,
			expires_at = excluded.expires_at,
			verified = excluded.verified`,
		c.Email, c.Code, c.ExpiresAt.UTC(), c.Verified,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving reset code for %s: %w", c.Email, err)
	}
	return nil
}

// GetResetCode returns the pending code for email. Expiry is checked by the
// caller, so an expired row is still returned.
func (db *DB) GetResetCode(ctx context.Context, email string) (*model.ResetCode, error) {
	var c model.ResetCode
	err := db.conn.QueryRowContext(ctx,
		`SELECT email, code, expires_at, verified FROM reset_codes WHERE email = ?`,
		email,
	).Scan(&c.Email, &c.Code, &c.ExpiresAt, &c.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reset code", email)
		}
		return nil, fmt.Errorf("sqlite: getting reset code for %s: %w", email, err)
	}
	return &c, nil
}

// MarkResetCodeVerified flags the pending code as verified; the reset
// itself only accepts verified codes.
func (db *DB) MarkResetCodeVerified(ctx context.Context, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE reset_codes SET verified = 1 WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("sqlite: verifying reset code for %s: %w", email, err)
	}
	return requireRow(res, "reset code", email)
}

func (db *DB) DeleteResetCode(ctx context.Context, email string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM reset_codes WHERE email = ?`, email); err != nil {
		return fmt.Errorf("sqlite: deleting reset code for %s: %w", email, err)
	}
	return nil
}

// RecordFailedLogin appends one attempt for email. failed_at is stored as unix
// seconds so the window comparison in CountFailedLogins is a plain integer
// compare.
func (db *DB) RecordFailedLogin(ctx context.Context, email string, at time.Time) error {
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO login_failures (email, failed_at) VALUES (?, ?)`,
		email, at.Unix()); err != nil {
		return fmt.Errorf("sqlite: recording failed login for %s: %w", email, err)
	}
	return nil
}

// CountFailedLogins counts attempts for email at or after since. Rows older
// than the window are left in place; ClearFailedLogins removes them on the
// next success.
func (db *DB) CountFailedLogins(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_failures WHERE email = ? AND failed_at >= ?`,
		email, since.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting failed logins for %s: %w", email, err)
	}
	return n, nil
}

func (db *DB) ClearFailedLogins(ctx context.Context, email string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM login_failures WHERE email = ?`, email); err != nil {
		return fmt.Errorf("sqlite: clearing failed logins for %s: %w", email, err)
	}
	return nil
}
