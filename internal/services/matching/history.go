package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	"github.com/tradepost/backend/internal/pkg/validate"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

// DeleteHistoryEntry removes a (player, game) pair from the last result set
// and from the history log. Absent from one of them is fine; absent from
// both is ErrNotFound.
func (s *Service) DeleteHistoryEntry(ctx context.Context, userID, playerID, gameID string) error {
	if !validate.ID(userID) || !validate.ID(playerID) || !validate.ID(gameID) {
		return ErrValidation
	}
	if s.sessions == nil || s.history == nil {
		return fmt.Errorf("matching dependencies are not configured")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		fromResults, err := s.sessions.RemoveFromLastResults(txCtx, tx, userID, playerID, gameID)
		if err != nil {
			return err
		}
		fromHistory, err := s.history.Delete(txCtx, tx, userID, playerID, gameID)
		if err != nil {
			return err
		}
		if !fromResults && !fromHistory {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return storeerr.Classify("delete history entry", err, ErrNotFound)
	}
	return nil
}

// RecordTradeInvitation puts an invitation from fromUserID about gameID at
// the top of toUserID's history. The recipient gets an idle matching session
// if they have none; their budget is not touched.
func (s *Service) RecordTradeInvitation(ctx context.Context, fromUserID, toUserID, gameID string) (model.HistoryEntry, error) {
	if !validate.ID(fromUserID) || !validate.ID(toUserID) || !validate.ID(gameID) {
		return model.HistoryEntry{}, ErrValidation
	}
	if fromUserID == toUserID {
		return model.HistoryEntry{}, ErrValidation
	}
	if s.sessions == nil || s.history == nil || s.users == nil || s.games == nil {
		return model.HistoryEntry{}, fmt.Errorf("matching dependencies are not configured")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	sender, err := s.users.Get(ctx, fromUserID)
	if err != nil {
		return model.HistoryEntry{}, notFoundOr("get inviting user", err, pgrepo.ErrUserNotFound)
	}
	if _, err := s.users.Get(ctx, toUserID); err != nil {
		return model.HistoryEntry{}, notFoundOr("get invited user", err, pgrepo.ErrUserNotFound)
	}
	game, err := s.games.Get(ctx, gameID)
	if err != nil {
		return model.HistoryEntry{}, notFoundOr("get game", err, pgrepo.ErrGameNotFound)
	}

	matchType, err := s.invitationMatchType(ctx, toUserID, gameID)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	now := s.now().UTC()
	entry := model.HistoryEntry{
		MatchResult: model.MatchResult{
			PlayerID:    sender.ID,
			PlayerEmail: sender.Email,
			PlayerName:  sender.DisplayName,
			GameID:      game.ID,
			GameTitle:   game.Title,
			MatchType:   matchType,
			AddedAt:     now,
			MatchedAt:   now,
		},
		Source: enums.HistorySourceInvitation,
	}

	err = s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		if err := s.sessions.Ensure(txCtx, tx, toUserID, now); err != nil {
			return err
		}
		if err := s.history.Prepend(txCtx, tx, toUserID, []model.HistoryEntry{entry}); err != nil {
			return err
		}
		_, err := s.history.Trim(txCtx, tx, toUserID, s.cfg.Limits.HistoryCap)
		return err
	})
	if err != nil {
		return model.HistoryEntry{}, storeerr.Classify("record trade invitation", err)
	}

	s.logger.Info("trade invitation recorded",
		zap.String("from_user_id", fromUserID),
		zap.String("to_user_id", toUserID),
		zap.String("game_id", gameID),
	)
	return entry, nil
}

// invitationMatchType labels the entry from the recipient's side: a game they
// own is one they could offer, a game they want is one they are seeking.
func (s *Service) invitationMatchType(ctx context.Context, toUserID, gameID string) (enums.MatchType, error) {
	if s.ownerships == nil {
		return enums.MatchTypeOffering, nil
	}
	status, err := s.ownerships.Status(ctx, toUserID, gameID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrOwnershipNotFound) {
			return enums.MatchTypeOffering, nil
		}
		return "", storeerr.Classify("get recipient ownership", err)
	}
	if status == enums.OwnershipStatusWanted {
		return enums.MatchTypeSeeking, nil
	}
	return enums.MatchTypeOffering, nil
}

func (s *Service) ListHistory(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	if !validate.ID(userID) {
		return nil, ErrValidation
	}
	if s.history == nil {
		return nil, fmt.Errorf("match history store is nil")
	}
	if limit <= 0 || limit > s.cfg.Limits.HistoryCap {
		limit = s.cfg.Limits.HistoryCap
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	items, err := s.history.List(ctx, userID, limit)
	if err != nil {
		return nil, storeerr.Classify("list match history", err)
	}
	if items == nil {
		items = []model.HistoryEntry{}
	}
	return items, nil
}

func notFoundOr(op string, err, notFound error) error {
	if errors.Is(err, notFound) {
		return ErrNotFound
	}
	return storeerr.Classify(op, err)
}
