package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	"github.com/tradepost/backend/internal/pkg/validate"
)

// FindMatches runs both directions against one snapshot. Seeking covers games
// the user wants that others own; offering covers games the user owns that
// others want. Either query failing fails the whole call.
func (s *Service) FindMatches(ctx context.Context, userID string) ([]model.MatchResult, []model.MatchResult, error) {
	if !validate.ID(userID) {
		return nil, nil, ErrValidation
	}
	if s.finder == nil {
		return nil, nil, fmt.Errorf("match finder store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	limit := s.cfg.Limits.ResultsPerDirection
	var seeking, offering []model.MatchResult
	err := s.runReadTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		var err error
		seeking, err = s.finder.FindCandidates(txCtx, tx, userID, enums.OwnershipStatusWanted, enums.OwnershipStatusOwned, enums.MatchTypeSeeking, limit)
		if err != nil {
			return err
		}
		offering, err = s.finder.FindCandidates(txCtx, tx, userID, enums.OwnershipStatusOwned, enums.OwnershipStatusWanted, enums.MatchTypeOffering, limit)
		return err
	})
	if err != nil {
		return nil, nil, storeerr.Classify("find matches", err)
	}

	return capResults(seeking, limit), capResults(offering, limit), nil
}

func capResults(items []model.MatchResult, limit int) []model.MatchResult {
	if items == nil {
		return []model.MatchResult{}
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// combineResults concatenates seeking then offering, stamps the run time and
// drops repeated (player, game) pairs.
func combineResults(seeking, offering []model.MatchResult, matchedAt time.Time) []model.MatchResult {
	out := make([]model.MatchResult, 0, len(seeking)+len(offering))
	for _, item := range seeking {
		item.MatchType = enums.MatchTypeSeeking
		item.MatchedAt = matchedAt
		out = append(out, item)
	}
	for _, item := range offering {
		item.MatchType = enums.MatchTypeOffering
		item.MatchedAt = matchedAt
		out = append(out, item)
	}
	return model.DedupeMatches(out)
}
