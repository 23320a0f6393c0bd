package local

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/model"
)

var _ identity.Gateway = (*Client)(nil)

// Client is one browser's connection to the Provider.
//
// Auth change notifications are delivered in order under notifyMu, so a
// subscriber never observes two callbacks at once and never receives one
// after its unsubscribe func returns.
type Client struct {
	p *Provider

	mu      sync.Mutex
	current *model.Principal
	token   string

	notifyMu sync.Mutex
	nextSub  int
	subs     map[int]identity.AuthChangeFunc
}

func newClient(p *Provider) *Client {
	return &Client{p: p, subs: make(map[int]identity.AuthChangeFunc)}
}

// Register creates a password account with a "user" profile and signs it
// in on this client.
func (c *Client) Register(ctx context.Context, params identity.RegisterParams) (*model.Principal, error) {
	account, err := c.p.register(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.signIn(account)
}

// Login checks email and password and signs the account in. Five failures
// for one email inside the lockout window answer too-many-requests.
func (c *Client) Login(ctx context.Context, email, password string) (*model.Principal, error) {
	account, err := c.p.login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signIn(account)
}

// OAuthLogin exchanges the provider's authorization code and signs in the
// linked account, linking or creating one on first use.
func (c *Client) OAuthLogin(ctx context.Context, cred identity.OAuthCredential) (*model.Principal, error) {
	account, err := c.p.oauthLogin(ctx, cred)
	if err != nil {
		return nil, err
	}
	return c.signIn(account)
}

// Logout is idempotent; signing out while already signed out still
// notifies subscribers.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.token = ""
	c.mu.Unlock()

	c.publish()
	return nil
}

// RequestPasswordReset mails a fresh code to a known address. Unknown
// addresses succeed without sending anything.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.p.requestPasswordReset(ctx, email)
}

// VerifyResetCode marks the pending code verified. Repeated wrong codes
// delete it and answer too-many-requests.
func (c *Client) VerifyResetCode(ctx context.Context, email, code string) error {
	return c.p.verifyResetCode(ctx, email, code)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	return c.p.confirmPasswordReset(ctx, email, code, newPassword)
}

// SubscribeToAuthChanges calls fn with the current principal before
// returning, then after every sign-in or sign-out on this client.
func (c *Client) SubscribeToAuthChanges(fn identity.AuthChangeFunc) func() {
	c.notifyMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	fn(c.snapshot())
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.notifyMu.Lock()
			delete(c.subs, id)
			c.notifyMu.Unlock()
		})
	}
}

// GetProfile returns nil, nil for a missing profile; only storage failures
// are errors.
func (c *Client) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	profile, err := c.p.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("local: reading profile: %w", err)
	}
	return profile, nil
}

func (c *Client) UpsertProfile(ctx context.Context, profile model.Profile) (*model.Profile, error) {
	if err := c.p.store.UpsertProfile(ctx, &profile); err != nil {
		return nil, fmt.Errorf("local: writing profile: %w", err)
	}
	return &profile, nil
}

func (c *Client) AuthCodeURL(provider, state string) (string, error) {
	op, ok := c.p.oauth[provider]
	if !ok {
		return "", identity.NewError(identity.CodeUnknown, fmt.Errorf("oauth provider %q not configured", provider))
	}
	return op.AuthURL(state), nil
}

// IDToken is the signed token for the current principal, "" when signed
// out. Handing it back to Provider.Connect restores the principal.
func (c *Client) IDToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Current returns a copy of the signed-in principal, or nil.
func (c *Client) Current() *model.Principal {
	return c.snapshot()
}

func (c *Client) signIn(account *model.Account) (*model.Principal, error) {
	token, err := c.p.tokens.Generate(account.ID, account.Email)
	if err != nil {
		return nil, identity.NewError(identity.CodeUnknown, err)
	}

	principal := account.Principal()
	c.mu.Lock()
	c.current = principal
	c.token = token
	c.mu.Unlock()

	c.p.logger.Debug("principal signed in", slog.String("accountID", account.ID))
	c.publish()

	cp := *principal
	return &cp, nil
}

func (c *Client) snapshot() *model.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// publish delivers the principal current at delivery time, so a burst of
// changes always ends with every subscriber seeing the final state.
func (c *Client) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	p := c.snapshot()
	for _, fn := range c.subs {
		if p == nil {
			fn(nil)
			continue
		}
		cp := *p
		fn(&cp)
	}
}

func codesEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
