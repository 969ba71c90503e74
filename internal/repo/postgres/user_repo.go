package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradepost/backend/internal/domain/model"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Upsert creates the user on first sync. Later syncs only refresh the display
// name and avatar; the email is kept as first seen.
func (r *UserRepo) Upsert(ctx context.Context, user model.User) (model.User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return model.User{}, fmt.Errorf("invalid user upsert payload")
	}
	if r.pool == nil {
		return model.User{}, ErrPoolUnavailable
	}

	var out model.User
	err := r.pool.QueryRow(ctx, `
INSERT INTO users (
	id,
	email,
	display_name,
	avatar_url,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
	display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
	avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), users.avatar_url),
	updated_at = CASE
		WHEN users.display_name IS DISTINCT FROM COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name)
			OR users.avatar_url IS DISTINCT FROM COALESCE(NULLIF(EXCLUDED.avatar_url, ''), users.avatar_url)
		THEN NOW()
		ELSE users.updated_at
	END
RETURNING id, email, display_name, avatar_url, created_at, updated_at
`, user.ID, strings.TrimSpace(user.Email), strings.TrimSpace(user.DisplayName), strings.TrimSpace(user.AvatarURL)).Scan(
		&out.ID,
		&out.Email,
		&out.DisplayName,
		&out.AvatarURL,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user: %w", err)
	}

	return out, nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (model.User, error) {
	if strings.TrimSpace(userID) == "" {
		return model.User{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return model.User{}, ErrPoolUnavailable
	}

	var out model.User
	err := r.pool.QueryRow(ctx, `
SELECT id, email, display_name, avatar_url, created_at, updated_at
FROM users
WHERE id = $1
`, userID).Scan(&out.ID, &out.Email, &out.DisplayName, &out.AvatarURL, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}

	return out, nil
}
