package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/smartbot/internal/model"
)

func (db *DB) SaveResetCode(ctx context.Context, c *model.ResetCode) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO reset_codes (email, code, expires_at, verified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET
			code = EXCLUDED.code,
			expires_at = EXCLUDED.expires_at,
			verified = EXCLUDED.verified`,
		c.Email, c.Code, c.ExpiresAt.UTC(), c.Verified,
	)
	if err != nil {
		return fmt.Errorf("postgres: saving reset code for %s: %w", c.Email, err)
	}
	return nil
}

func (db *DB) GetResetCode(ctx context.Context, email string) (*model.ResetCode, error) {
	var c model.ResetCode
	err := db.pool.QueryRow(ctx,
		`SELECT email, code, expires_at, verified FROM reset_codes WHERE email = $1`,
		email,
	).Scan(&c.Email, &c.Code, &c.ExpiresAt, &c.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("reset code", email)
		}
		return nil, fmt.Errorf("postgres: getting reset code for %s: %w", email, err)
	}
	return &c, nil
}

func (db *DB) MarkResetCodeVerified(ctx context.Context, email string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE reset_codes SET verified = TRUE WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("postgres: verifying reset code for %s: %w", email, err)
	}
	return requireRow(tag, "reset code", email)
}

func (db *DB) DeleteResetCode(ctx context.Context, email string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM reset_codes WHERE email = $1`, email); err != nil {
		return fmt.Errorf("postgres: deleting reset code for %s: %w", email, err)
	}
	return nil
}

func (db *DB) RecordFailedLogin(ctx context.Context, email string, at time.Time) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO login_failures (email, failed_at) VALUES ($1, $2)`, email, at.UTC()); err != nil {
		return fmt.Errorf("postgres: recording failed login for %s: %w", email, err)
	}
	return nil
}

func (db *DB) CountFailedLogins(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_failures WHERE email = $1 AND failed_at >= $2`,
		email, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: counting failed logins for %s: %w", email, err)
	}
	return n, nil
}

func (db *DB) ClearFailedLogins(ctx context.Context, email string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM login_failures WHERE email = $1`, email); err != nil {
		return fmt.Errorf("postgres: clearing failed logins for %s: %w", email, err)
	}
	return nil
}
