// Package config loads server configuration from an optional YAML file,
// expands ${VAR} references, applies environment overrides and validates
// the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity stores.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Comparison providers.
const (
	ProviderMock   = "mock"
	ProviderGemini = "gemini"
)

// Config is the whole server configuration. Load fills it from defaults,
// then the YAML file, then the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Identity   IdentityConfig   `yaml:"identity"`
	Session    SessionConfig    `yaml:"session"`
	Comparison ComparisonConfig `yaml:"comparison"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int      `yaml:"port"`
	BaseURL         string   `yaml:"base_url"`
	SecureCookies   bool     `yaml:"secure_cookies"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig selects the account store and the token, password and
// OAuth settings of the self-hosted identity gateway.
type IdentityConfig struct {
	Store       string      `yaml:"store"`
	SQLitePath  string      `yaml:"sqlite_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	JWTSecret   string      `yaml:"jwt_secret"`
	TokenTTL    Duration    `yaml:"token_ttl"`
	BcryptCost  int         `yaml:"bcrypt_cost"`
	Google      OAuthClient `yaml:"google"`
	GitHub      OAuthClient `yaml:"github"`
}

// OAuthClient is one provider's app registration. A provider is offered
// only when both ClientID and ClientSecret are set.
type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

// SessionConfig bounds reconciliation calls and the per-client registry.
type SessionConfig struct {
	// Timeout bounds each identity gateway call.
	Timeout    Duration `yaml:"timeout"`
	IdleTTL    Duration `yaml:"idle_ttl"`
	MaxClients int      `yaml:"max_clients"`
}

// ComparisonConfig picks the comparison backend. GeminiAPIKey is required
// only for the gemini provider.
type ComparisonConfig struct {
	Provider     string   `yaml:"provider"`
	GeminiAPIKey string   `yaml:"gemini_api_key"`
	Model        string   `yaml:"model"`
	Timeout      Duration `yaml:"timeout"`
	MockLatency  Duration `yaml:"mock_latency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration reads YAML strings such as "15s" or "2h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: parsing duration %q: %w", node.Line, s, err)
	}
	d.Duration = v
	return nil
}

// Default returns a configuration that runs locally with the SQLite store
// and the mock comparison service. JWTSecret must still be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Identity: IdentityConfig{
			Store:      StoreSQLite,
			SQLitePath: "data/smartbot.db",
			TokenTTL:   Duration{24 * time.Hour},
			BcryptCost: 12,
		},
		Session: SessionConfig{
			Timeout:    Duration{10 * time.Second},
			IdleTTL:    Duration{2 * time.Hour},
			MaxClients: 10000,
		},
		Comparison: ComparisonConfig{
			Provider:    ProviderMock,
			Timeout:     Duration{30 * time.Second},
			MockLatency: Duration{800 * time.Millisecond},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides
// and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value; unset variables
// expand to "".
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT value %q", v)
		}
		c.Server.Port = port
	}
	str("BASE_URL", &c.Server.BaseURL)
	str("IDENTITY_STORE", &c.Identity.Store)
	str("DB_PATH", &c.Identity.SQLitePath)
	str("DATABASE_URL", &c.Identity.PostgresDSN)
	str("JWT_SECRET", &c.Identity.JWTSecret)
	str("GOOGLE_CLIENT_ID", &c.Identity.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Identity.Google.ClientSecret)
	str("GOOGLE_CALLBACK_URL", &c.Identity.Google.CallbackURL)
	str("GITHUB_CLIENT_ID", &c.Identity.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &c.Identity.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &c.Identity.GitHub.CallbackURL)
	str("COMPARISON_PROVIDER", &c.Comparison.Provider)
	str("GEMINI_API_KEY", &c.Comparison.GeminiAPIKey)
	str("GEMINI_MODEL", &c.Comparison.Model)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	return nil
}

func (c *Config) fillDerived() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	base := strings.TrimSuffix(c.Server.BaseURL, "/")
	if c.Identity.Google.CallbackURL == "" {
		c.Identity.Google.CallbackURL = base + "/auth/google/callback"
	}
	if c.Identity.GitHub.CallbackURL == "" {
		c.Identity.GitHub.CallbackURL = base + "/auth/github/callback"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Identity.Store {
	case StoreSQLite:
		if c.Identity.SQLitePath == "" {
			errs = append(errs, errors.New("identity.sqlite_path is required for the sqlite store"))
		}
	case StorePostgres:
		if c.Identity.PostgresDSN == "" {
			errs = append(errs, errors.New("identity.postgres_dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("identity.store %q must be %q or %q", c.Identity.Store, StoreSQLite, StorePostgres))
	}
	if len(c.Identity.JWTSecret) < 16 {
		errs = append(errs, errors.New("identity.jwt_secret must be at least 16 characters (set JWT_SECRET)"))
	}
	if c.Identity.BcryptCost < 4 || c.Identity.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("identity.bcrypt_cost %d out of range 4..31", c.Identity.BcryptCost))
	}
	if c.Session.MaxClients <= 0 {
		errs = append(errs, errors.New("session.max_clients must be positive"))
	}
	if c.Session.Timeout.Duration <= 0 || c.Session.IdleTTL.Duration <= 0 {
		errs = append(errs, errors.New("session.timeout and session.idle_ttl must be positive"))
	}
	switch c.Comparison.Provider {
	case ProviderMock:
	case ProviderGemini:
		if c.Comparison.GeminiAPIKey == "" {
			errs = append(errs, errors.New("comparison.gemini_api_key is required for the gemini provider (set GEMINI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("comparison.provider %q must be %q or %q", c.Comparison.Provider, ProviderMock, ProviderGemini))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q must be \"text\" or \"json\"", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
