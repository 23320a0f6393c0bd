// Package local is the self-hosted identity gateway: email/password and
// OAuth sign-in backed by the repository layer, bcrypt password hashes and
// signed ID tokens.
//
// A Provider is process-wide. Each browser client gets its own Client via
// Connect; the Client holds that browser's current principal and
// implements identity.Gateway.
package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/model"
	"github.com/sakif/smartbot/internal/repository"
)

const (
	resetCodeTTL     = 15 * time.Minute
	lockoutWindow    = 15 * time.Minute
	lockoutThreshold = 5
)

// Options configures a Provider. Store, Passwords and Tokens are required.
type Options struct {
	Store     repository.Store
	Passwords *PasswordService
	Tokens    *TokenService
	OAuth     map[string]OAuthProvider // keyed by identity.ProviderGoogle / ProviderGitHub
	Mailer    Mailer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Provider owns everything shared by the per-client connections.
type Provider struct {
	store     repository.Store
	passwords *PasswordService
	tokens    *TokenService
	oauth     map[string]OAuthProvider
	mailer    Mailer
	logger    *slog.Logger
	now       func() time.Time
}

func NewProvider(opts Options) (*Provider, error) {
	if opts.Store == nil || opts.Passwords == nil || opts.Tokens == nil {
		return nil, errors.New("local: store, passwords and tokens are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mailer == nil {
		opts.Mailer = NewLogMailer(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OAuth == nil {
		opts.OAuth = map[string]OAuthProvider{}
	}
	return &Provider{
		store:     opts.Store,
		passwords: opts.Passwords,
		tokens:    opts.Tokens,
		oauth:     opts.OAuth,
		mailer:    opts.Mailer,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// Connect opens a client connection. A valid idToken for an active
// account restores that account as the current principal; anything else
// starts signed out.
func (p *Provider) Connect(ctx context.Context, idToken string) *Client {
	c := newClient(p)
	if idToken == "" {
		return c
	}

	accountID, err := p.tokens.Validate(idToken)
	if err != nil {
		p.logger.Debug("discarding stored id token", slog.String("error", err.Error()))
		return c
	}

	account, err := p.store.GetAccountByID(ctx, accountID)
	if err != nil {
		p.logger.Warn("restoring session failed",
			slog.String("accountID", accountID),
			slog.String("error", err.Error()),
		)
		return c
	}
	if account.Disabled {
		return c
	}

	c.current = account.Principal()
	c.token = idToken
	return c
}

// OAuthProviders lists the configured OAuth provider names.
func (p *Provider) OAuthProviders() []string {
	names := make([]string, 0, len(p.oauth))
	for _, name := range []string{identity.ProviderGoogle, identity.ProviderGitHub} {
		if _, ok := p.oauth[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", identity.NewError(identity.CodeInvalidEmail, nil)
	}
	return email, nil
}

func (p *Provider) register(ctx context.Context, params identity.RegisterParams) (*model.Account, error) {
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}
	if len(params.Password) < MinPasswordLength {
		return nil, identity.NewError(identity.CodeWeakPassword, nil)
	}

	hash, err := p.passwords.Hash(params.Password)
	if err != nil {
		return nil, identity.NewError(identity.CodeWeakPassword, err)
	}

	account := &model.Account{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(params.FullName),
	}
	if err := p.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, identity.NewError(identity.CodeEmailInUse, err)
		}
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	profile := &model.Profile{
		ID:       account.ID,
		Email:    email,
		Role:     model.RoleUser,
		Username: account.DisplayName,
	}
	if err := p.store.UpsertProfile(ctx, profile); err != nil {
		return nil, identity.NewError(identity.CodeUnknown, fmt.Errorf("writing profile: %w", err))
	}

	p.logger.Info("account registered", slog.String("accountID", account.ID))
	return account, nil
}

func (p *Provider) login(ctx context.Context, email, password string) (*model.Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	failures, err := p.store.CountFailedLogins(ctx, email, p.now().Add(-lockoutWindow))
	if err != nil {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}
	if failures >= lockoutThreshold {
		return nil, identity.NewError(identity.CodeTooManyRequests, nil)
	}

	account, err := p.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			p.recordFailure(ctx, email)
			return nil, identity.NewError(identity.CodeInvalidCredential, nil)
		}
		return nil, identity.NewError(identity.CodeUnknown, err)
	}
	if account.Disabled {
		return nil, identity.NewError(identity.CodeUserDisabled, nil)
	}
	if account.PasswordHash == "" {
		// OAuth-only account
		p.recordFailure(ctx, email)
		return nil, identity.NewError(identity.CodeInvalidCredential, nil)
	}
	if err := p.passwords.Verify(account.PasswordHash, password); err != nil {
		p.recordFailure(ctx, email)
		if errors.Is(err, errPasswordMismatch) {
			return nil, identity.NewError(identity.CodeInvalidCredential, nil)
		}
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	if err := p.store.ClearFailedLogins(ctx, email); err != nil {
		p.logger.Warn("clearing failed logins", slog.String("error", err.Error()))
	}
	return account, nil
}

func (p *Provider) recordFailure(ctx context.Context, email string) {
	if err := p.store.RecordFailedLogin(ctx, email, p.now()); err != nil {
		p.logger.Warn("recording failed login", slog.String("error", err.Error()))
	}
}

func (p *Provider) oauthLogin(ctx context.Context, cred identity.OAuthCredential) (*model.Account, error) {
	if cred.Denied != "" {
		return nil, identity.NewError(identity.CodeOAuthCancelled, errors.New(cred.Denied))
	}
	provider, ok := p.oauth[cred.Provider]
	if !ok {
		return nil, identity.NewError(identity.CodeUnknown, fmt.Errorf("oauth provider %q not configured", cred.Provider))
	}
	if cred.Code == "" {
		return nil, identity.NewError(identity.CodeOAuthCancelled, nil)
	}

	ext, err := provider.Exchange(ctx, cred.Code)
	if err != nil {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	account, err := p.store.GetAccountByOAuth(ctx, cred.Provider, ext.Subject)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		account, err = p.linkOrCreate(ctx, cred.Provider, ext)
		if err != nil {
			return nil, err
		}
	default:
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	if account.Disabled {
		return nil, identity.NewError(identity.CodeUserDisabled, nil)
	}
	return account, nil
}

// linkOrCreate attaches the external identity to the account with the same
// email, or creates a password-less account for it.
func (p *Provider) linkOrCreate(ctx context.Context, provider string, ext *OAuthUser) (*model.Account, error) {
	email := strings.ToLower(strings.TrimSpace(ext.Email))
	if email == "" {
		// GitHub hides private emails; synthesise a stable placeholder.
		email = fmt.Sprintf("%s+%s@users.noreply.smartbot", provider, ext.Subject)
	}

	existing, err := p.store.GetAccountByEmail(ctx, email)
	if err == nil {
		if err := p.store.LinkOAuth(ctx, existing.ID, provider, ext.Subject); err != nil {
			return nil, identity.NewError(identity.CodeUnknown, err)
		}
		existing.OAuthProvider = provider
		existing.OAuthSubject = ext.Subject
		existing.EmailVerified = true
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	account := &model.Account{
		Email:         email,
		DisplayName:   ext.Name,
		EmailVerified: true,
		OAuthProvider: provider,
		OAuthSubject:  ext.Subject,
	}
	if err := p.store.CreateAccount(ctx, account); err != nil {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}
	p.logger.Info("account created via oauth",
		slog.String("accountID", account.ID),
		slog.String("provider", provider),
	)
	return account, nil
}

func (p *Provider) requestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	if _, err := p.store.GetAccountByEmail(ctx, email); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Unknown addresses get the same answer as known ones.
			p.logger.Debug("password reset for unknown email", slog.String("email", email))
			return nil
		}
		return identity.NewError(identity.CodeUnknown, err)
	}

	code, err := generateCode()
	if err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	rc := &model.ResetCode{Email: email, Code: code, ExpiresAt: p.now().Add(resetCodeTTL)}
	if err := p.store.SaveResetCode(ctx, rc); err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	if err := p.mailer.SendResetCode(ctx, email, code); err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	return nil
}

// checkResetCode loads the pending code for email and verifies it matches
// and has not expired.
//
// Wrong codes are counted per email under their own key, apart from wrong
// passwords, so a login lockout never blocks the reset that fixes it. Once
// lockoutThreshold codes miss inside lockoutWindow the pending code is
// deleted and every attempt answers too-many-requests until the window
// passes.
func (p *Provider) checkResetCode(ctx context.Context, email, code string) (*model.ResetCode, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	failures, err := p.store.CountFailedLogins(ctx, resetAttemptKey(email), p.now().Add(-lockoutWindow))
	if err != nil {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}
	if failures >= lockoutThreshold {
		p.dropResetCode(ctx, email)
		return nil, identity.NewError(identity.CodeTooManyRequests, nil)
	}

	rc, err := p.store.GetResetCode(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, identity.NewError(identity.CodeInvalidCode, nil)
		}
		return nil, identity.NewError(identity.CodeUnknown, err)
	}
	if !codesEqual(rc.Code, code) {
		p.recordFailure(ctx, resetAttemptKey(email))
		if failures+1 >= lockoutThreshold {
			p.logger.Warn("reset code attempts exhausted", slog.String("email", email))
			p.dropResetCode(ctx, email)
			return nil, identity.NewError(identity.CodeTooManyRequests, nil)
		}
		return nil, identity.NewError(identity.CodeInvalidCode, nil)
	}
	if !p.now().Before(rc.ExpiresAt) {
		return nil, identity.NewError(identity.CodeExpiredCode, nil)
	}
	return rc, nil
}

func (p *Provider) verifyResetCode(ctx context.Context, email, code string) error {
	rc, err := p.checkResetCode(ctx, email, code)
	if err != nil {
		return err
	}
	if err := p.store.MarkResetCodeVerified(ctx, rc.Email); err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	return nil
}

func (p *Provider) confirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	rc, err := p.checkResetCode(ctx, email, code)
	if err != nil {
		return err
	}
	if !rc.Verified {
		return identity.NewError(identity.CodeInvalidCode, errors.New("code not verified"))
	}
	if len(newPassword) < MinPasswordLength {
		return identity.NewError(identity.CodeWeakPassword, nil)
	}

	account, err := p.store.GetAccountByEmail(ctx, rc.Email)
	if err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	hash, err := p.passwords.Hash(newPassword)
	if err != nil {
		return identity.NewError(identity.CodeWeakPassword, err)
	}
	if err := p.store.UpdatePassword(ctx, account.ID, hash); err != nil {
		return identity.NewError(identity.CodeUnknown, err)
	}
	p.dropResetCode(ctx, rc.Email)
	for _, key := range []string{rc.Email, resetAttemptKey(rc.Email)} {
		if err := p.store.ClearFailedLogins(ctx, key); err != nil {
			p.logger.Warn("clearing failed attempts", slog.String("error", err.Error()))
		}
	}
	p.logger.Info("password reset", slog.String("accountID", account.ID))
	return nil
}

// resetAttemptKey is the attempt-log key for wrong reset codes.
func resetAttemptKey(email string) string {
	return "reset:" + email
}

func (p *Provider) dropResetCode(ctx context.Context, email string) {
	if err := p.store.DeleteResetCode(ctx, email); err != nil {
		p.logger.Warn("deleting reset code", slog.String("error", err.Error()))
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("local: generating reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
