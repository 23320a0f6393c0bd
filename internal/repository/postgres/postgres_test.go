package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/model"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgresql://u@h/db"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

// newTestDB starts PostgreSQL in a container. Set TEST_INTEGRATION=1 to run.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("smartbot_test"),
		tcpostgres.WithUsername("smartbot"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := New(ctx, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountsAndProfiles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &model.Account{Email: "pg@example.com", PasswordHash: "h", DisplayName: "PG"}
	require.NoError(t, db.CreateAccount(ctx, a))
	assert.NotEmpty(t, a.ID)

	err := db.CreateAccount(ctx, &model.Account{Email: "pg@example.com"})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "duplicate email: %v", err)

	got, err := db.GetAccountByEmail(ctx, "pg@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	require.NoError(t, db.LinkOAuth(ctx, a.ID, "google", "sub-1"))
	got, err = db.GetAccountByOAuth(ctx, "google", "sub-1")
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)

	_, err = db.GetProfile(ctx, a.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	p := &model.Profile{ID: a.ID, Email: a.Email, Role: model.RoleUser, Username: "PG"}
	require.NoError(t, db.UpsertProfile(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	p.Username = "Renamed"
	require.NoError(t, db.UpsertProfile(ctx, p))
	stored, err := db.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Username)
}

func TestResetCodesAndFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveResetCode(ctx, &model.ResetCode{
		Email: "r@example.com", Code: "123456", ExpiresAt: time.Now().Add(time.Minute),
	}))
	require.NoError(t, db.MarkResetCodeVerified(ctx, "r@example.com"))
	c, err := db.GetResetCode(ctx, "r@example.com")
	require.NoError(t, err)
	assert.True(t, c.Verified)
	require.NoError(t, db.DeleteResetCode(ctx, "r@example.com"))

	require.NoError(t, db.RecordFailedLogin(ctx, "r@example.com", time.Now()))
	n, err := db.CountFailedLogins(ctx, "r@example.com", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
