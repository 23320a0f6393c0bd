package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/smartbot/internal/model"
)

func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, role, username, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.Role, &p.Username, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("profile", id)
		}
		return nil, fmt.Errorf("postgres: getting profile %s: %w", id, err)
	}
	return &p, nil
}

// UpsertProfile relies on INSERT … ON CONFLICT so racing sessions converge
// on one row; RETURNING yields the canonical record.
func (db *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	now := time.Now().UTC()
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, role, username, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			username = EXCLUDED.username,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, email, role, username, created_at, updated_at`,
		p.ID, p.Email, p.Role, p.Username, now,
	).Scan(&p.ID, &p.Email, &p.Role, &p.Username, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upserting profile %s: %w", p.ID, err)
	}
	return nil
}
