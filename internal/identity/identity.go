// Package identity defines the contract every identity gateway backend
// satisfies. A Gateway is one client's connection to the provider: it
// tracks that client's current principal and publishes changes to it.
//
// Backends are chosen at startup by configuration; the rest of the
// application only sees this interface.
package identity

import (
	"context"

	"github.com/sakif/smartbot/internal/model"
)

// OAuth providers understood by OAuthLogin and AuthCodeURL.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// RegisterParams carries the email/password registration form.
type RegisterParams struct {
	FullName string
	Email    string
	Password string
}

// OAuthCredential is the result of the provider's consent screen: the
// authorization code returned to the callback, or a non-empty Denied
// reason when the user backed out.
type OAuthCredential struct {
	Provider string
	Code     string
	Denied   string
}

// AuthChangeFunc receives the current principal, or nil when signed out.
type AuthChangeFunc func(p *model.Principal)

// Gateway is the identity provider as seen by one client.
type Gateway interface {
	Register(ctx context.Context, params RegisterParams) (*model.Principal, error)
	Login(ctx context.Context, email, password string) (*model.Principal, error)
	OAuthLogin(ctx context.Context, cred OAuthCredential) (*model.Principal, error)
	Logout(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error

	// SubscribeToAuthChanges calls fn with the current principal right away
	// and again after every change. fn is never called after unsubscribe
	// returns.
	SubscribeToAuthChanges(fn AuthChangeFunc) (unsubscribe func())

	// GetProfile returns (nil, nil) when no profile exists for id.
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, profile model.Profile) (*model.Profile, error)

	VerifyResetCode(ctx context.Context, email, code string) error
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error

	// AuthCodeURL returns the consent-screen URL for provider.
	AuthCodeURL(provider, state string) (string, error)
	// IDToken is a signed token for the current principal that a later
	// connection can present to restore it. Empty when signed out.
	IDToken() string
}
