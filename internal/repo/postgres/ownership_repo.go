package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
)

type OwnershipRepo struct {
	pool *pgxpool.Pool
}

func NewOwnershipRepo(pool *pgxpool.Pool) *OwnershipRepo {
	return &OwnershipRepo{pool: pool}
}

// Upsert sets the status for (user, game). A status change rewrites the row;
// created_at is kept so the record's age survives flips between owned and
// wanted.
func (r *OwnershipRepo) Upsert(ctx context.Context, userID, gameID string, status enums.OwnershipStatus) (model.Ownership, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(gameID) == "" {
		return model.Ownership{}, fmt.Errorf("invalid ownership payload")
	}
	if r.pool == nil {
		return model.Ownership{}, ErrPoolUnavailable
	}

	var out model.Ownership
	err := r.pool.QueryRow(ctx, `
WITH upserted AS (
	INSERT INTO ownerships (
		user_id,
		game_id,
		status,
		created_at,
		updated_at
	) VALUES ($1, $2, $3, NOW(), NOW())
	ON CONFLICT (user_id, game_id) DO UPDATE SET
		status = EXCLUDED.status,
		updated_at = NOW()
	RETURNING user_id, game_id, status, created_at, updated_at
)
SELECT u.user_id, u.game_id, g.title, g.publisher, g.is_custom, u.status, u.created_at, u.updated_at
FROM upserted u
JOIN games g ON g.id = u.game_id
`, userID, gameID, string(status)).Scan(
		&out.UserID,
		&out.GameID,
		&out.GameTitle,
		&out.Publisher,
		&out.IsCustom,
		&out.Status,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return model.Ownership{}, ErrGameNotFound
		}
		return model.Ownership{}, fmt.Errorf("upsert ownership: %w", err)
	}

	return out, nil
}

func (r *OwnershipRepo) Delete(ctx context.Context, tx pgx.Tx, userID, gameID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(gameID) == "" {
		return false, fmt.Errorf("invalid ownership delete payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
DELETE FROM ownerships
WHERE user_id = $1 AND game_id = $2
`, userID, gameID)
	if err != nil {
		return false, fmt.Errorf("delete ownership: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *OwnershipRepo) ListForUser(ctx context.Context, userID string) ([]model.Ownership, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return nil, ErrPoolUnavailable
	}

	rows, err := r.pool.Query(ctx, `
SELECT o.user_id, o.game_id, g.title, g.publisher, g.is_custom, o.status, o.created_at, o.updated_at
FROM ownerships o
JOIN games g ON g.id = o.game_id
WHERE o.user_id = $1
ORDER BY o.status ASC, o.created_at DESC, o.game_id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ownerships: %w", err)
	}
	defer rows.Close()

	items := make([]model.Ownership, 0)
	for rows.Next() {
		var item model.Ownership
		if err := rows.Scan(
			&item.UserID,
			&item.GameID,
			&item.GameTitle,
			&item.Publisher,
			&item.IsCustom,
			&item.Status,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ownership: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate ownerships: %w", rows.Err())
	}

	return items, nil
}

// Status returns the user's status for a game, or ErrOwnershipNotFound.
func (r *OwnershipRepo) Status(ctx context.Context, userID, gameID string) (enums.OwnershipStatus, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(gameID) == "" {
		return "", fmt.Errorf("invalid ownership lookup payload")
	}
	if r.pool == nil {
		return "", ErrPoolUnavailable
	}

	var status enums.OwnershipStatus
	err := r.pool.QueryRow(ctx, `
SELECT status
FROM ownerships
WHERE user_id = $1 AND game_id = $2
`, userID, gameID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOwnershipNotFound
		}
		return "", fmt.Errorf("get ownership status: %w", err)
	}

	return status, nil
}
