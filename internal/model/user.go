// Package model defines the data structures used throughout the application.
package model

import "time"

// RoleUser is the only role allowed to hold a session in this application.
// Profiles carrying any other role (admin consoles share the same table)
// are signed out during reconciliation.
const RoleUser = "user"

// Principal is the identity-provider view of a signed-in user.
//
// It is owned by the identity gateway; the session store only keeps a copy
// for the lifetime of the current client session.
type Principal struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName"` // best-effort, from registration or OAuth metadata
}

// Profile is the application-level user record, keyed by Principal.ID.
// It is created lazily on first successful authentication.
type Profile struct {
	ID        string    `json:"id"       db:"id"`
	Email     string    `json:"email"    db:"email"`
	Role      string    `json:"role"     db:"role"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Account is the credential record held by the self-hosted identity gateway.
//
// PasswordHash is empty for accounts created through OAuth. OAuthProvider
// and OAuthSubject identify the external account that was linked, e.g.
// ("github", "1234567").
type Account struct {
	ID            string    `json:"id"            db:"id"`
	Email         string    `json:"email"         db:"email"`
	PasswordHash  string    `json:"-"             db:"password_hash"`
	DisplayName   string    `json:"displayName"   db:"display_name"`
	EmailVerified bool      `json:"emailVerified" db:"email_verified"`
	Disabled      bool      `json:"disabled"      db:"disabled"`
	OAuthProvider string    `json:"oauthProvider" db:"oauth_provider"`
	OAuthSubject  string    `json:"oauthSubject"  db:"oauth_subject"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt"     db:"updated_at"`
}

// Principal projects the account onto the identity the gateway publishes.
func (a *Account) Principal() *Principal {
	return &Principal{
		ID:            a.ID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
	}
}

// ResetCode is a pending password-reset verification code. One code per
// email; issuing a new one replaces the old.
type ResetCode struct {
	Email     string    `db:"email"`
	Code      string    `db:"code"`
	ExpiresAt time.Time `db:"expires_at"`
	Verified  bool      `db:"verified"`
}
