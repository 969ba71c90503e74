package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradepost/backend/internal/domain/model"
)

type MatchHistoryRepo struct {
	pool *pgxpool.Pool
}

func NewMatchHistoryRepo(pool *pgxpool.Pool) *MatchHistoryRepo {
	return &MatchHistoryRepo{pool: pool}
}

// Prepend upserts entries so that entries[0] ends up newest. An existing
// (player, game) row is overwritten and moved to the top.
func (r *MatchHistoryRepo) Prepend(ctx context.Context, tx pgx.Tx, userID string, entries []model.HistoryEntry) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		batch.Queue(`
INSERT INTO match_history (
	user_id,
	player_id,
	game_id,
	player_email,
	player_name,
	game_title,
	match_type,
	source,
	added_at,
	matched_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id, player_id, game_id) DO UPDATE SET
	player_email = EXCLUDED.player_email,
	player_name = EXCLUDED.player_name,
	game_title = EXCLUDED.game_title,
	match_type = EXCLUDED.match_type,
	source = EXCLUDED.source,
	added_at = EXCLUDED.added_at,
	matched_at = EXCLUDED.matched_at,
	seq = nextval('match_history_seq')
`, userID, e.PlayerID, e.GameID, e.PlayerEmail, e.PlayerName, e.GameTitle, string(e.MatchType), string(e.Source), e.AddedAt.UTC(), e.MatchedAt.UTC())
	}

	results := tx.SendBatch(ctx, batch)
	for i, n := 0, batch.Len(); i < n; i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("prepend match history: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close match history batch: %w", err)
	}

	return nil
}

// Trim keeps the newest keep entries.
func (r *MatchHistoryRepo) Trim(ctx context.Context, tx pgx.Tx, userID string, keep int) (int64, error) {
	if strings.TrimSpace(userID) == "" || keep <= 0 {
		return 0, fmt.Errorf("invalid match history trim payload")
	}
	if tx == nil {
		return 0, fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
DELETE FROM match_history
WHERE user_id = $1
	AND seq IN (
		SELECT seq
		FROM match_history
		WHERE user_id = $1
		ORDER BY seq DESC
		OFFSET $2
	)
`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim match history: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *MatchHistoryRepo) Delete(ctx context.Context, tx pgx.Tx, userID, playerID, gameID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(playerID) == "" || strings.TrimSpace(gameID) == "" {
		return false, fmt.Errorf("invalid match history delete payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
DELETE FROM match_history
WHERE user_id = $1 AND player_id = $2 AND game_id = $3
`, userID, playerID, gameID)
	if err != nil {
		return false, fmt.Errorf("delete match history entry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *MatchHistoryRepo) List(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("invalid user id")
	}
	if limit <= 0 {
		limit = 100
	}
	if r.pool == nil {
		return nil, ErrPoolUnavailable
	}

	rows, err := r.pool.Query(ctx, `
SELECT player_id, game_id, player_email, player_name, game_title, match_type, source, added_at, matched_at
FROM match_history
WHERE user_id = $1
ORDER BY seq DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list match history: %w", err)
	}
	defer rows.Close()

	items := make([]model.HistoryEntry, 0, limit)
	for rows.Next() {
		var item model.HistoryEntry
		if err := rows.Scan(
			&item.PlayerID,
			&item.GameID,
			&item.PlayerEmail,
			&item.PlayerName,
			&item.GameTitle,
			&item.MatchType,
			&item.Source,
			&item.AddedAt,
			&item.MatchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan match history entry: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate match history: %w", rows.Err())
	}

	return items, nil
}
