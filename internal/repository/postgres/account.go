package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/model"
)

const accountColumns = `id, email, password_hash, display_name, email_verified, disabled,
	oauth_provider, oauth_subject, created_at, updated_at`

func notFound(resource, id string) error {
	return apperror.NotFound(resource, id)
}

func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = xid.New().String()
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.EmailVerified, a.Disabled,
		a.OAuthProvider, a.OAuthSubject, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Email)
		}
		return fmt.Errorf("postgres: inserting account %s: %w", a.Email, err)
	}
	return nil
}

func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return db.getAccount(ctx, id, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.getAccount(ctx, email, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (db *DB) GetAccountByOAuth(ctx context.Context, provider, subject string) (*model.Account, error) {
	return db.getAccount(ctx, provider+":"+subject,
		`SELECT `+accountColumns+` FROM accounts WHERE oauth_provider = $1 AND oauth_subject = $2`,
		provider, subject)
}

func (db *DB) getAccount(ctx context.Context, key, query string, args ...any) (*model.Account, error) {
	var a model.Account
	err := db.pool.QueryRow(ctx, query, args...).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("account", key)
		}
		return nil, fmt.Errorf("postgres: getting account %s: %w", key, err)
	}
	return &a, nil
}

func (db *DB) LinkOAuth(ctx context.Context, id, provider, subject string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET oauth_provider = $1, oauth_subject = $2, email_verified = TRUE, updated_at = now()
		 WHERE id = $3`,
		provider, subject, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: linking oauth for account %s: %w", id, err)
	}
	return requireRow(tag, "account", id)
}

func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $1, updated_at = now() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating password for account %s: %w", id, err)
	}
	return requireRow(tag, "account", id)
}
