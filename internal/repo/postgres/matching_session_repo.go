package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MatchingSessionRepo struct {
	pool *pgxpool.Pool
}

// MatchingSessionRecord keeps last_match_results undecoded; callers decide how
// to recover from a corrupted blob.
type MatchingSessionRecord struct {
	UserID         string
	SessionStart   time.Time
	MatchesUsed    int
	RawLastResults []byte
	LastMatchAt    *time.Time
}

func NewMatchingSessionRepo(pool *pgxpool.Pool) *MatchingSessionRepo {
	return &MatchingSessionRepo{pool: pool}
}

func (r *MatchingSessionRepo) Get(ctx context.Context, userID string) (MatchingSessionRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return MatchingSessionRecord{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return MatchingSessionRecord{}, ErrPoolUnavailable
	}

	var rec MatchingSessionRecord
	err := r.pool.QueryRow(ctx, `
SELECT user_id, session_start, matches_used, last_match_results, last_match_at
FROM matching_sessions
WHERE user_id = $1
`, userID).Scan(&rec.UserID, &rec.SessionStart, &rec.MatchesUsed, &rec.RawLastResults, &rec.LastMatchAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchingSessionRecord{}, ErrMatchingSessionAbsent
		}
		return MatchingSessionRecord{}, fmt.Errorf("get matching session: %w", err)
	}

	return rec, nil
}

// RecordAttempt consumes one unit of the window budget and stores the result
// set in a single statement. An elapsed window (session_start <= windowCutoff)
// or an idle session left by an invitation restarts at now with one use. When the budget is already spent the guard
// rejects the update and ErrMatchBudgetExhausted is returned.
func (r *MatchingSessionRepo) RecordAttempt(
	ctx context.Context,
	tx pgx.Tx,
	userID string,
	now time.Time,
	windowCutoff time.Time,
	maxMatches int,
	resultsJSON string,
) (MatchingSessionRecord, error) {
	if strings.TrimSpace(userID) == "" || maxMatches <= 0 {
		return MatchingSessionRecord{}, fmt.Errorf("invalid matching attempt payload")
	}
	if tx == nil {
		return MatchingSessionRecord{}, fmt.Errorf("transaction is required")
	}
	if strings.TrimSpace(resultsJSON) == "" {
		resultsJSON = "[]"
	}

	var rec MatchingSessionRecord
	err := tx.QueryRow(ctx, `
INSERT INTO matching_sessions (
	user_id,
	session_start,
	matches_used,
	last_match_results,
	last_match_at,
	created_at,
	updated_at
) VALUES ($1, $2, 1, $4::jsonb, $2, $2, $2)
ON CONFLICT (user_id) DO UPDATE SET
	session_start = CASE
		WHEN matching_sessions.session_start <= $3 OR matching_sessions.matches_used = 0 THEN EXCLUDED.session_start
		ELSE matching_sessions.session_start
	END,
	matches_used = CASE
		WHEN matching_sessions.session_start <= $3 OR matching_sessions.matches_used = 0 THEN 1
		ELSE matching_sessions.matches_used + 1
	END,
	last_match_results = EXCLUDED.last_match_results,
	last_match_at = EXCLUDED.last_match_at,
	updated_at = EXCLUDED.updated_at
WHERE matching_sessions.session_start <= $3
	OR matching_sessions.matches_used < $5
RETURNING user_id, session_start, matches_used, last_match_results, last_match_at
`, userID, now.UTC(), windowCutoff.UTC(), resultsJSON, maxMatches).Scan(
		&rec.UserID,
		&rec.SessionStart,
		&rec.MatchesUsed,
		&rec.RawLastResults,
		&rec.LastMatchAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchingSessionRecord{}, ErrMatchBudgetExhausted
		}
		return MatchingSessionRecord{}, fmt.Errorf("record matching attempt: %w", err)
	}

	return rec, nil
}

// Ensure creates an idle session (no budget used) if the user has none.
func (r *MatchingSessionRepo) Ensure(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO matching_sessions (
	user_id,
	session_start,
	matches_used,
	created_at,
	updated_at
) VALUES ($1, $2, 0, $2, $2)
ON CONFLICT (user_id) DO NOTHING
`, userID, now.UTC()); err != nil {
		return fmt.Errorf("ensure matching session: %w", err)
	}

	return nil
}

// RemoveFromLastResults drops every (player, game) entry from the stored
// result array. It reports false when nothing matched.
func (r *MatchingSessionRepo) RemoveFromLastResults(ctx context.Context, tx pgx.Tx, userID, playerID, gameID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(playerID) == "" || strings.TrimSpace(gameID) == "" {
		return false, fmt.Errorf("invalid last results delete payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	result, err := tx.Exec(ctx, `
UPDATE matching_sessions s
SET
	last_match_results = COALESCE((
		SELECT jsonb_agg(t.elem ORDER BY t.ord)
		FROM jsonb_array_elements(s.last_match_results) WITH ORDINALITY AS t(elem, ord)
		WHERE NOT (t.elem->>'player_id' = $2 AND t.elem->>'game_id' = $3)
	), '[]'::jsonb),
	updated_at = NOW()
WHERE s.user_id = $1
	AND jsonb_typeof(s.last_match_results) = 'array'
	AND EXISTS (
		SELECT 1
		FROM jsonb_array_elements(s.last_match_results) AS e(elem)
		WHERE e.elem->>'player_id' = $2 AND e.elem->>'game_id' = $3
	)
`, userID, playerID, gameID)
	if err != nil {
		return false, fmt.Errorf("remove from last match results: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ClearExpiredForUser is the read-repair path for a single user. Results at
// last_match_at <= cutoff are expired. Clearing an already empty session is a
// no-op.
func (r *MatchingSessionRepo) ClearExpiredForUser(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return false, ErrPoolUnavailable
	}

	result, err := r.pool.Exec(ctx, `
UPDATE matching_sessions
SET
	last_match_results = NULL,
	last_match_at = NULL,
	updated_at = NOW()
WHERE user_id = $1
	AND last_match_at IS NOT NULL
	AND last_match_at <= $2
`, userID, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("clear expired match results for user: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ClearExpiredBatch nulls out at most batch stale result sets. Rows locked by
// a concurrent sweep are skipped rather than waited on.
func (r *MatchingSessionRepo) ClearExpiredBatch(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	if r.pool == nil {
		return 0, ErrPoolUnavailable
	}

	result, err := r.pool.Exec(ctx, `
UPDATE matching_sessions
SET
	last_match_results = NULL,
	last_match_at = NULL,
	updated_at = NOW()
WHERE user_id IN (
	SELECT user_id
	FROM matching_sessions
	WHERE last_match_at IS NOT NULL
		AND last_match_at <= $1
	ORDER BY last_match_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
`, cutoff.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("clear expired match results: %w", err)
	}

	return result.RowsAffected(), nil
}
