// Package repository declares the storage contracts of the self-hosted
// identity gateway. Implementations live in the sqlite and postgres
// subpackages; both return apperror.ErrNotFound for missing rows and
// apperror.ErrConflict for unique violations.
package repository

import (
	"context"
	"time"

	"github.com/sakif/smartbot/internal/model"
)

// AccountRepository stores the gateway's credential records. Emails are
// stored normalized and are unique.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByOAuth(ctx context.Context, provider, subject string) (*model.Account, error)
	// LinkOAuth attaches an external identity to an existing account.
	LinkOAuth(ctx context.Context, id, provider, subject string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// ProfileRepository stores the application-side profile keyed by the
// principal id.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	// UpsertProfile inserts the profile or, if a row with the same id
	// exists, overwrites email, role and username. Concurrent upserts of
	// the same id must both succeed.
	UpsertProfile(ctx context.Context, profile *model.Profile) error
}

// ResetCodeRepository keeps at most one pending reset code per email.
type ResetCodeRepository interface {
	SaveResetCode(ctx context.Context, code *model.ResetCode) error
	GetResetCode(ctx context.Context, email string) (*model.ResetCode, error)
	MarkResetCodeVerified(ctx context.Context, email string) error
	DeleteResetCode(ctx context.Context, email string) error
}

// LoginAttemptRepository records failed attempts per key so the gateway
// can lock out an email after repeated failures. Wrong passwords are keyed
// by the email itself; wrong reset codes use a derived key.
type LoginAttemptRepository interface {
	RecordFailedLogin(ctx context.Context, email string, at time.Time) error
	CountFailedLogins(ctx context.Context, email string, since time.Time) (int, error)
	ClearFailedLogins(ctx context.Context, email string) error
}

// Store bundles every repository the identity gateway needs.
type Store interface {
	AccountRepository
	ProfileRepository
	ResetCodeRepository
	LoginAttemptRepository
	Close() error
}
