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

type GameRepo struct {
	pool *pgxpool.Pool
}

func NewGameRepo(pool *pgxpool.Pool) *GameRepo {
	return &GameRepo{pool: pool}
}

func (r *GameRepo) CreateCustom(ctx context.Context, game model.Game) (model.Game, error) {
	if strings.TrimSpace(game.ID) == "" || strings.TrimSpace(game.Title) == "" {
		return model.Game{}, fmt.Errorf("invalid custom game payload")
	}
	if r.pool == nil {
		return model.Game{}, ErrPoolUnavailable
	}

	var out model.Game
	err := r.pool.QueryRow(ctx, `
INSERT INTO games (
	id,
	title,
	publisher,
	slug,
	is_custom,
	created_by,
	created_at
) VALUES ($1, $2, $3, $4, TRUE, $5, NOW())
RETURNING id, title, publisher, slug, is_custom, created_by, created_at
`, game.ID, game.Title, game.Publisher, game.Slug, game.CreatedBy).Scan(
		&out.ID,
		&out.Title,
		&out.Publisher,
		&out.Slug,
		&out.IsCustom,
		&out.CreatedBy,
		&out.CreatedAt,
	)
	if err != nil {
		return model.Game{}, fmt.Errorf("create custom game: %w", err)
	}

	return out, nil
}

func (r *GameRepo) Get(ctx context.Context, gameID string) (model.Game, error) {
	if strings.TrimSpace(gameID) == "" {
		return model.Game{}, fmt.Errorf("invalid game id")
	}
	if r.pool == nil {
		return model.Game{}, ErrPoolUnavailable
	}

	var out model.Game
	err := r.pool.QueryRow(ctx, `
SELECT id, title, publisher, slug, is_custom, created_by, created_at
FROM games
WHERE id = $1
`, gameID).Scan(&out.ID, &out.Title, &out.Publisher, &out.Slug, &out.IsCustom, &out.CreatedBy, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Game{}, ErrGameNotFound
		}
		return model.Game{}, fmt.Errorf("get game: %w", err)
	}

	return out, nil
}

func (r *GameRepo) Search(ctx context.Context, query string, limit int) ([]model.Game, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if r.pool == nil {
		return nil, ErrPoolUnavailable
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, title, publisher, slug, is_custom, created_by, created_at
FROM games
WHERE $1 = '' OR title ILIKE '%' || $1 || '%' OR publisher ILIKE '%' || $1 || '%'
ORDER BY is_custom ASC, title ASC, id ASC
LIMIT $2
`, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search games: %w", err)
	}
	defer rows.Close()

	items := make([]model.Game, 0, limit)
	for rows.Next() {
		var item model.Game
		if err := rows.Scan(&item.ID, &item.Title, &item.Publisher, &item.Slug, &item.IsCustom, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate games: %w", rows.Err())
	}

	return items, nil
}

// DeleteOrphanedCustom removes a custom game nobody references any more.
// Canonical catalog entries are never touched.
func (r *GameRepo) DeleteOrphanedCustom(ctx context.Context, tx pgx.Tx, gameID string) (bool, error) {
	if strings.TrimSpace(gameID) == "" {
		return false, fmt.Errorf("invalid game id")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
DELETE FROM games g
WHERE g.id = $1
	AND g.is_custom
	AND NOT EXISTS (
		SELECT 1
		FROM ownerships o
		WHERE o.game_id = g.id
	)
`, gameID)
	if err != nil {
		return false, fmt.Errorf("delete orphaned custom game: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
