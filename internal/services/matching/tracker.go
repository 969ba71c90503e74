package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/domain/rules"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	"github.com/tradepost/backend/internal/pkg/validate"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

// CanUserMatch reads the budget and the still-live results without running
// the finder. Expired results are dropped from the answer and cleared from
// the store on a best-effort basis. A pending burst backoff is reported
// without counting the read.
func (s *Service) CanUserMatch(ctx context.Context, userID string) (Outcome, error) {
	if !validate.ID(userID) {
		return Outcome{}, ErrValidation
	}
	out, err := s.status(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	out.RetryAfterSec = s.burstBackoff(ctx, userID)
	return out, nil
}

func (s *Service) status(ctx context.Context, userID string) (Outcome, error) {
	if s.sessions == nil {
		return Outcome{}, fmt.Errorf("matching session store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	now := s.now().UTC()
	rec, err := s.sessions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrMatchingSessionAbsent) {
			return s.outcomeFor(ctx, userID, nil, now), nil
		}
		return Outcome{}, storeerr.Classify("get matching session", err)
	}

	return s.outcomeFor(ctx, userID, &rec, now), nil
}

func (s *Service) outcomeFor(ctx context.Context, userID string, rec *pgrepo.MatchingSessionRecord, now time.Time) Outcome {
	var (
		start       *time.Time
		used        int
		lastMatchAt *time.Time
	)
	if rec != nil {
		start = &rec.SessionStart
		used = rec.MatchesUsed
		lastMatchAt = rec.LastMatchAt
	}

	budget := rules.EvaluateBudget(now, start, used, s.cfg.Limits)
	out := Outcome{
		Matches:           []model.MatchResult{},
		RateLimited:       !budget.CanMatch,
		MatchesUsed:       budget.Used,
		MatchesRemaining:  budget.Remaining,
		SecondsUntilReset: budget.SecondsUntilReset,
		ResetAt:           budget.ResetAt,
	}

	window, live := rules.EvaluateHistory(now, lastMatchAt, s.cfg.Limits.Retention)
	if !live {
		if lastMatchAt != nil {
			s.clearExpired(ctx, userID, now)
		}
		return out
	}

	out.RecentMatches = s.decodeResults(userID, rec.RawLastResults)
	out.History = &HistoryInfo{
		IsHistorical:     true,
		LastMatchAt:      window.LastMatchAt,
		ExpireAt:         window.ExpireAt,
		RemainingMinutes: window.RemainingMinutes,
	}
	return out
}

func (s *Service) clearExpired(ctx context.Context, userID string, now time.Time) {
	if _, err := s.sessions.ClearExpiredForUser(ctx, userID, now.Add(-s.cfg.Limits.Retention)); err != nil {
		s.logger.Warn("lazy clear of expired match results failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// decodeResults never fails: a corrupted blob is logged and read as empty.
func (s *Service) decodeResults(userID string, raw []byte) []model.MatchResult {
	if len(raw) == 0 || string(raw) == "null" {
		return []model.MatchResult{}
	}
	var items []model.MatchResult
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn("malformed stored match results, treating as empty", zap.String("user_id", userID), zap.Error(err))
		return []model.MatchResult{}
	}
	if items == nil {
		return []model.MatchResult{}
	}
	return items
}

// RecordMatchingAttempt consumes one unit of the budget, stores results as the
// last result set and merges them into the history log, all in one
// transaction. ErrRateLimited means nothing was written.
func (s *Service) RecordMatchingAttempt(ctx context.Context, userID string, results []model.MatchResult) (model.MatchingSession, error) {
	if !validate.ID(userID) {
		return model.MatchingSession{}, ErrValidation
	}
	if s.sessions == nil || s.history == nil {
		return model.MatchingSession{}, fmt.Errorf("matching dependencies are not configured")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	now := s.now().UTC()
	return s.recordAttempt(ctx, userID, results, now)
}

func (s *Service) recordAttempt(ctx context.Context, userID string, results []model.MatchResult, now time.Time) (model.MatchingSession, error) {
	results = model.DedupeMatches(results)
	if results == nil {
		results = []model.MatchResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return model.MatchingSession{}, fmt.Errorf("encode match results: %w", err)
	}

	entries := make([]model.HistoryEntry, 0, len(results))
	for _, item := range results {
		entries = append(entries, model.HistoryEntry{MatchResult: item, Source: enums.HistorySourceMatch})
	}

	var rec pgrepo.MatchingSessionRecord
	err = s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		var err error
		rec, err = s.sessions.RecordAttempt(txCtx, tx, userID, now, now.Add(-s.cfg.Limits.Window), s.cfg.Limits.MaxMatches, string(payload))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := s.history.Prepend(txCtx, tx, userID, entries); err != nil {
			return err
		}
		_, err = s.history.Trim(txCtx, tx, userID, s.cfg.Limits.HistoryCap)
		return err
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrMatchBudgetExhausted) {
			return model.MatchingSession{}, ErrRateLimited
		}
		return model.MatchingSession{}, storeerr.Classify("record matching attempt", err)
	}

	return model.MatchingSession{
		UserID:           rec.UserID,
		SessionStart:     rec.SessionStart,
		MatchesUsed:      rec.MatchesUsed,
		LastMatchResults: results,
		LastMatchAt:      rec.LastMatchAt,
		UpdatedAt:        now,
	}, nil
}

// MatchNow runs the finder when the budget allows it. Otherwise, when the
// burst guard throttles the caller, or when a concurrent run takes the last
// unit first, it answers like a status read with RateLimited set.
func (s *Service) MatchNow(ctx context.Context, userID string) (Outcome, error) {
	if !validate.ID(userID) {
		return Outcome{}, ErrValidation
	}

	status, err := s.status(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if status.RateLimited {
		return status, nil
	}
	if retryAfter, allowed := s.checkBurst(ctx, userID); !allowed {
		status.RateLimited = true
		status.RetryAfterSec = retryAfter
		return status, nil
	}

	seeking, offering, err := s.FindMatches(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	now := s.now().UTC()
	results := combineResults(seeking, offering, now)
	session, err := s.recordAttempt(ctx, userID, results, now)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.logger.Info("match run lost the race for the last budget unit", zap.String("user_id", userID))
			return s.status(ctx, userID)
		}
		return Outcome{}, err
	}

	budget := rules.EvaluateBudget(now, &session.SessionStart, session.MatchesUsed, s.cfg.Limits)
	out := Outcome{
		Computed:          true,
		Matches:           results,
		RateLimited:       false,
		MatchesUsed:       budget.Used,
		MatchesRemaining:  budget.Remaining,
		SecondsUntilReset: budget.SecondsUntilReset,
		ResetAt:           budget.ResetAt,
		RecentMatches:     results,
	}
	if window, live := rules.EvaluateHistory(now, session.LastMatchAt, s.cfg.Limits.Retention); live {
		out.History = &HistoryInfo{
			IsHistorical:     false,
			LastMatchAt:      window.LastMatchAt,
			ExpireAt:         window.ExpireAt,
			RemainingMinutes: window.RemainingMinutes,
		}
	}
	return out, nil
}
