package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
)

type MatchFinderRepo struct {
	pool *pgxpool.Pool
}

func NewMatchFinderRepo(pool *pgxpool.Pool) *MatchFinderRepo {
	return &MatchFinderRepo{pool: pool}
}

// FindCandidates intersects the caller's records in callerStatus with other
// users' records in counterStatus for the same game. The caller's own rows
// never match. Newest counterpart records come first.
func (r *MatchFinderRepo) FindCandidates(
	ctx context.Context,
	tx pgx.Tx,
	userID string,
	callerStatus enums.OwnershipStatus,
	counterStatus enums.OwnershipStatus,
	matchType enums.MatchType,
	limit int,
) ([]model.MatchResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}
	if limit <= 0 {
		limit = 3
	}

	rows, err := tx.Query(ctx, `
SELECT
	other.user_id,
	u.email,
	u.display_name,
	g.id,
	g.title,
	other.created_at
FROM ownerships mine
JOIN ownerships other
	ON other.game_id = mine.game_id
	AND other.status = $3
	AND other.user_id <> mine.user_id
JOIN users u ON u.id = other.user_id
JOIN games g ON g.id = other.game_id
WHERE
	mine.user_id = $1
	AND mine.status = $2
ORDER BY other.created_at DESC, other.user_id ASC, g.id ASC
LIMIT $4
`, userID, string(callerStatus), string(counterStatus), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s candidates: %w", matchType, err)
	}
	defer rows.Close()

	items := make([]model.MatchResult, 0, limit)
	for rows.Next() {
		item := model.MatchResult{MatchType: matchType}
		if err := rows.Scan(
			&item.PlayerID,
			&item.PlayerEmail,
			&item.PlayerName,
			&item.GameID,
			&item.GameTitle,
			&item.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", matchType, err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", matchType, rows.Err())
	}

	return items, nil
}
