package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/smartbot/internal/apperror"
	"github.com/sakif/smartbot/internal/model"
)

// GetProfile retrieves the profile row for a principal id.
// Returns apperror.ErrNotFound if no profile exists yet.
func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, role, username, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(
		&p.ID,
		&p.Email,
		&p.Role,
		&p.Username,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", id)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", id, err)
	}

	return &p, nil
}

// UpsertProfile inserts or updates a profile keyed by id.
//
// ON CONFLICT DO UPDATE keeps created_at from the first insert, so two
// sessions racing to create the same profile both succeed and converge on
// one row. The canonical row is read back into p.
func (db *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, role, username, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			role = excluded.role,
			username = excluded.username,
			updated_at = excluded.updated_at`,
		p.ID, p.Email, p.Role, p.Username, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting profile %s: %w", p.ID, err)
	}

	stored, err := db.GetProfile(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}
