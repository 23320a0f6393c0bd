// Package service implements the auth form flows.
//
// AuthService is the layer between the auth form handlers and a client's
// identity gateway:
//
//	AuthHandler (HTTP) → AuthService (validate, call, map errors) → identity.Gateway
//
// Every flow validates locally first; an invalid form never reaches the
// gateway. Gateway failures come back as *FormError carrying the message to
// show inline. No flow writes session state: a successful login changes
// the gateway's principal, and the session store picks that up from its
// subscription.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sakif/smartbot/internal/forms"
	"github.com/sakif/smartbot/internal/identity"
)

// Banners shown on the login page after a completed flow.
const (
	BannerRegistered      = "Registration successful! Please sign in."
	BannerPasswordUpdated = "Password updated. Please sign in."
)

// Navigation targets.
const (
	PathLogin      = "/login"
	PathOnboarding = "/onboarding"
	PathVerifyCode = "/verify-code"
	PathReset      = "/reset-password"
)

const defaultTimeout = 15 * time.Second

// Outcome tells the handler where to go after a successful submission.
type Outcome struct {
	RedirectTo string
	Banner     string
}

// FormError is a gateway failure translated for display next to the form.
type FormError struct {
	Message string
	Err     error
}

func (e *FormError) Error() string { return "service/auth: " + e.Err.Error() }

func (e *FormError) Unwrap() error { return e.Err }

// AuthService runs the auth form flows. It holds no per-client state; each
// call receives the client's gateway.
type AuthService struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewAuthService creates an AuthService. timeout bounds each gateway call;
// zero selects 15s.
func NewAuthService(timeout time.Duration, logger *slog.Logger) *AuthService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AuthService{timeout: timeout, logger: logger}
}

// call runs fn under the configured deadline and wraps a failure as a
// FormError.
func (s *AuthService) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn("auth flow failed",
			slog.String("op", op),
			slog.String("code", string(identity.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return &FormError{Message: identity.Message(err), Err: fmt.Errorf("%s: %w", op, err)}
	}
	return nil
}

// Login signs in with email and password and continues to onboarding.
func (s *AuthService) Login(ctx context.Context, gw identity.Gateway, f forms.Login) (Outcome, error) {
	if err := f.Validate(); err != nil {
		return Outcome{}, err
	}
	err := s.call(ctx, "login", func(ctx context.Context) error {
		_, err := gw.Login(ctx, f.Email, f.Password)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathOnboarding}, nil
}

// Register creates the account, then signs straight back out so the user
// logs in explicitly.
func (s *AuthService) Register(ctx context.Context, gw identity.Gateway, f forms.Register) (Outcome, error) {
	if err := f.Validate(); err != nil {
		return Outcome{}, err
	}
	err := s.call(ctx, "register", func(ctx context.Context) error {
		_, err := gw.Register(ctx, identity.RegisterParams{
			FullName: f.FullName,
			Email:    f.Email,
			Password: f.Password,
		})
		if err != nil {
			return err
		}
		return gw.Logout(ctx)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathLogin, Banner: BannerRegistered}, nil
}

// OAuthCallback completes a provider sign-in.
func (s *AuthService) OAuthCallback(ctx context.Context, gw identity.Gateway, cred identity.OAuthCredential) (Outcome, error) {
	err := s.call(ctx, "oauth", func(ctx context.Context) error {
		_, err := gw.OAuthLogin(ctx, cred)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathOnboarding}, nil
}

// ForgotPassword requests a reset code and moves to code entry.
func (s *AuthService) ForgotPassword(ctx context.Context, gw identity.Gateway, f forms.ForgotPassword) (Outcome, error) {
	if err := f.Validate(); err != nil {
		return Outcome{}, err
	}
	err := s.call(ctx, "forgot-password", func(ctx context.Context) error {
		return gw.RequestPasswordReset(ctx, f.Email)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathVerifyCode + "?email=" + url.QueryEscape(f.Email)}, nil
}

// VerifyCode checks the emailed code for email.
func (s *AuthService) VerifyCode(ctx context.Context, gw identity.Gateway, email string, f forms.Verification) (Outcome, error) {
	if err := f.Validate(); err != nil {
		return Outcome{}, err
	}
	if email == "" {
		return Outcome{}, &FormError{
			Message: "Your reset session has expired. Please request a new code.",
			Err:     errors.New("verify-code: no email in progress"),
		}
	}
	err := s.call(ctx, "verify-code", func(ctx context.Context) error {
		return gw.VerifyResetCode(ctx, email, f.Code)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathReset}, nil
}

// ResetPassword sets the new password using a verified code.
func (s *AuthService) ResetPassword(ctx context.Context, gw identity.Gateway, email, code string, f forms.ResetPassword) (Outcome, error) {
	if err := f.Validate(); err != nil {
		return Outcome{}, err
	}
	if email == "" || code == "" {
		return Outcome{}, &FormError{
			Message: "Your reset session has expired. Please request a new code.",
			Err:     errors.New("reset-password: no verified code in progress"),
		}
	}
	err := s.call(ctx, "reset-password", func(ctx context.Context) error {
		return gw.ConfirmPasswordReset(ctx, email, code, f.Password)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathLogin, Banner: BannerPasswordUpdated}, nil
}

// Logout signs the client out.
func (s *AuthService) Logout(ctx context.Context, gw identity.Gateway) (Outcome, error) {
	if err := s.call(ctx, "logout", gw.Logout); err != nil {
		return Outcome{}, err
	}
	return Outcome{RedirectTo: PathLogin}, nil
}
