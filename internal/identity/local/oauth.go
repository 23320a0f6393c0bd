package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthUser is the subset of an external profile the gateway links to.
type OAuthUser struct {
	Subject string // provider's stable user id
	Email   string
	Name    string
}

// OAuthProvider drives the Authorization Code flow for one provider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*OAuthUser, error)
}

// OAuthConfig holds the credentials registered with a provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether credentials are present.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// userinfoProvider exchanges the code server-to-server, then reads the
// provider's user endpoint with the resulting token.
type userinfoProvider struct {
	config  *oauth2.Config
	infoURL string
	decode  func(body []byte) (*OAuthUser, error)
}

func (p *userinfoProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *userinfoProvider) Exchange(ctx context.Context, code string) (*OAuthUser, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("local: exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("local: building userinfo request: %w", err)
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("local: calling userinfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local: userinfo endpoint returned status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("local: decoding userinfo response: %w", err)
	}

	u, err := p.decode(raw)
	if err != nil {
		return nil, err
	}
	if u.Subject == "" {
		return nil, fmt.Errorf("local: provider returned a user without an id")
	}
	return u, nil
}

// NewGoogleProvider uses the OpenID Connect userinfo endpoint.
func NewGoogleProvider(cfg OAuthConfig) OAuthProvider {
	return &userinfoProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		infoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		decode:  decodeGoogleUser,
	}
}

// NewGitHubProvider reads https://api.github.com/user.
func NewGitHubProvider(cfg OAuthConfig) OAuthProvider {
	return &userinfoProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		infoURL: "https://api.github.com/user",
		decode:  decodeGitHubUser,
	}
}

func decodeGoogleUser(body []byte) (*OAuthUser, error) {
	var g struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("local: decoding google user: %w", err)
	}
	return &OAuthUser{Subject: g.Sub, Email: g.Email, Name: g.Name}, nil
}

func decodeGitHubUser(body []byte) (*OAuthUser, error) {
	var g struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("local: decoding github user: %w", err)
	}
	if g.ID == 0 {
		return &OAuthUser{}, nil
	}
	name := g.Name
	if name == "" {
		name = g.Login
	}
	return &OAuthUser{Subject: strconv.FormatInt(g.ID, 10), Email: g.Email, Name: name}, nil
}
