package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/model"
)

// accountColumns is the column list shared by the INSERT and every SELECT,
// in the order scanAccount reads them. Keep the three in step.
const accountColumns = `id, email, password_hash, display_name, email_verified, disabled,
	oauth_provider, oauth_subject, created_at, updated_at`

// CreateAccount inserts a new account. The ID is generated here when the
// caller leaves it empty. A duplicate email yields apperror.ErrConflict.
//
// WHY NO UPSERT HERE?
// Accounts are created exactly once: by registration or by the first OAuth
// sign-in of an unknown identity. A second insert for the same email means
// the caller lost a race or the user already exists, and both cases must
// surface as "email-already-in-use" rather than silently overwriting a
// password hash.
//
// Timestamps are stored in UTC so that the DATETIME text sorts correctly.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = xid.New().String()
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.EmailVerified, a.Disabled,
		a.OAuthProvider, a.OAuthSubject, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Email)
		}
		return fmt.Errorf("sqlite: inserting account %s: %w", a.Email, err)
	}
	return nil
}

// GetAccountByID returns apperror.ErrNotFound when no account has id.
func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row, id)
}

// GetAccountByEmail looks an account up by its normalized (lower-case)
// email. The provider normalizes before calling; this layer compares
// bytes.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row, email)
}

// GetAccountByOAuth finds the account linked to an external identity.
// The lookup is served by idx_accounts_oauth (see migrate()).
func (db *DB) GetAccountByOAuth(ctx context.Context, provider, subject string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE oauth_provider = ? AND oauth_subject = ?`, provider, subject)
	return scanAccount(row, provider+":"+subject)
}

// LinkOAuth attaches an external identity to an existing account and marks
// its email verified: the provider has vouched for the address.
func (db *DB) LinkOAuth(ctx context.Context, id, provider, subject string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET oauth_provider = ?, oauth_subject = ?, email_verified = 1, updated_at = ?
		 WHERE id = ?`,
		provider, subject, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: linking oauth for account %s: %w", id, err)
	}
	return requireRow(res, "account", id)
}

// UpdatePassword replaces the bcrypt hash. Hashing happens in the
// identity layer; plaintext passwords never reach the repository.
func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for account %s: %w", id, err)
	}
	return requireRow(res, "account", id)
}

// scanAccount reads one row in accountColumns order. key only labels
// errors.
func scanAccount(row *sql.Row, key string) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.DisplayName,
		&a.EmailVerified,
		&a.Disabled,
		&a.OAuthProvider,
		&a.OAuthSubject,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", key)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", key, err)
	}
	return &a, nil
}

// requireRow turns a zero-row UPDATE/DELETE into apperror.ErrNotFound.
func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
