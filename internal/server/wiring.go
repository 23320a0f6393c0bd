package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/smartbot/internal/comparison"
	"github.com/sakif/smartbot/internal/config"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/identity/local"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/repository"
	"github.com/sakif/smartbot/internal/repository/postgres"
	sqliteRepo "github.com/sakif/smartbot/internal/repository/sqlite"
)

// OpenStore opens the configured identity store, creating the SQLite
// directory or applying Postgres migrations first.
func OpenStore(ctx context.Context, cfg config.IdentityConfig, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := postgres.Migrate(cfg.PostgresDSN, logger); err != nil {
			return nil, fmt.Errorf("migrating postgres: %w", err)
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil
	default:
		if cfg.SQLitePath != ":memory:" {
			dir := filepath.Dir(cfg.SQLitePath)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
}

// NewIdentityProvider builds the self-hosted identity provider. OAuth
// providers without credentials are left out.
func NewIdentityProvider(cfg config.IdentityConfig, store repository.Store, logger *slog.Logger) (*local.Provider, error) {
	tokens, err := local.NewTokenService(cfg.JWTSecret, cfg.TokenTTL.Duration)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	oauth := map[string]local.OAuthProvider{}
	if c := oauthConfig(cfg.Google); c.Enabled() {
		oauth[identity.ProviderGoogle] = local.NewGoogleProvider(c)
	}
	if c := oauthConfig(cfg.GitHub); c.Enabled() {
		oauth[identity.ProviderGitHub] = local.NewGitHubProvider(c)
	}
	if len(oauth) == 0 {
		logger.Info("no OAuth providers configured, email sign-in only")
	}

	return local.NewProvider(local.Options{
		Store:     store,
		Passwords: local.NewPasswordServiceWithCost(cfg.BcryptCost),
		Tokens:    tokens,
		OAuth:     oauth,
		Mailer:    local.NewLogMailer(logger),
		Logger:    logger,
	})
}

func oauthConfig(c config.OAuthClient) local.OAuthConfig {
	return local.OAuthConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		CallbackURL:  c.CallbackURL,
	}
}

// NewComparison builds the configured comparison service, instrumented
// under its provider name.
func NewComparison(ctx context.Context, cfg config.ComparisonConfig, rec metrics.Recorder, logger *slog.Logger) (comparison.Service, error) {
	var svc comparison.Service
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := comparison.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		svc = g
	default:
		svc = &comparison.Mock{Latency: cfg.MockLatency.Duration, Logger: logger}
	}
	return comparison.NewInstrumented(svc, cfg.Provider, rec), nil
}
