package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	"github.com/tradepost/backend/internal/pkg/validate"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

const (
	maxTitleRunes     = 200
	maxPublisherRunes = 120
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

type OwnershipStore interface {
	Upsert(ctx context.Context, userID, gameID string, status enums.OwnershipStatus) (model.Ownership, error)
	Delete(ctx context.Context, tx pgx.Tx, userID, gameID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]model.Ownership, error)
}

type GameStore interface {
	CreateCustom(ctx context.Context, game model.Game) (model.Game, error)
	Get(ctx context.Context, gameID string) (model.Game, error)
	Search(ctx context.Context, query string, limit int) ([]model.Game, error)
	DeleteOrphanedCustom(ctx context.Context, tx pgx.Tx, gameID string) (bool, error)
}

type TxRunner func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error

type Dependencies struct {
	Pool       *pgxpool.Pool
	Ownerships OwnershipStore
	Games      GameStore
	Logger     *zap.Logger
}

type Config struct {
	QueryTimeout time.Duration
}

type Service struct {
	ownerships OwnershipStore
	games      GameStore
	runTx      TxRunner
	cfg        Config
	logger     *zap.Logger
	newID      func() string
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := deps.Pool

	return &Service{
		ownerships: deps.Ownerships,
		games:      deps.Games,
		runTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithTx(ctx, pool, fn)
		},
		cfg:    cfg,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]model.Ownership, error) {
	if !validate.ID(userID) {
		return nil, ErrValidation
	}
	if s.ownerships == nil {
		return nil, fmt.Errorf("ownership store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	items, err := s.ownerships.ListForUser(ctx, userID)
	if err != nil {
		return nil, storeerr.Classify("list collection", err)
	}
	return items, nil
}

func (s *Service) SetStatus(ctx context.Context, userID, gameID, rawStatus string) (model.Ownership, error) {
	if !validate.ID(userID) || !validate.ID(gameID) {
		return model.Ownership{}, ErrValidation
	}
	status, ok := enums.ParseOwnershipStatus(rawStatus)
	if !ok {
		return model.Ownership{}, ErrValidation
	}
	if s.ownerships == nil {
		return model.Ownership{}, fmt.Errorf("ownership store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	item, err := s.ownerships.Upsert(ctx, userID, gameID, status)
	if err != nil {
		if errors.Is(err, pgrepo.ErrGameNotFound) {
			return model.Ownership{}, ErrNotFound
		}
		return model.Ownership{}, storeerr.Classify("set ownership status", err)
	}
	return item, nil
}

// Remove deletes the user's record for a game. A custom game left without
// any record goes with it, in the same transaction.
func (s *Service) Remove(ctx context.Context, userID, gameID string) error {
	if !validate.ID(userID) || !validate.ID(gameID) {
		return ErrValidation
	}
	if s.ownerships == nil || s.games == nil {
		return fmt.Errorf("collection dependencies are not configured")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	var gameDeleted bool
	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		deleted, err := s.ownerships.Delete(txCtx, tx, userID, gameID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrNotFound
		}
		gameDeleted, err = s.games.DeleteOrphanedCustom(txCtx, tx, gameID)
		return err
	})
	if err != nil {
		return storeerr.Classify("remove ownership", err, ErrNotFound)
	}

	if gameDeleted {
		s.logger.Info("orphaned custom game deleted", zap.String("game_id", gameID), zap.String("user_id", userID))
	}
	return nil
}

func (s *Service) CreateCustomGame(ctx context.Context, userID, title, publisher string) (model.Game, error) {
	title = strings.TrimSpace(title)
	publisher = strings.TrimSpace(publisher)
	if !validate.ID(userID) || !validate.Required(title) {
		return model.Game{}, ErrValidation
	}
	if !validate.MaxRunes(title, maxTitleRunes) || !validate.MaxRunes(publisher, maxPublisherRunes) {
		return model.Game{}, ErrValidation
	}
	if s.games == nil {
		return model.Game{}, fmt.Errorf("game store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	creator := userID
	game, err := s.games.CreateCustom(ctx, model.Game{
		ID:        s.newID(),
		Title:     title,
		Publisher: publisher,
		Slug:      slug.Make(title),
		IsCustom:  true,
		CreatedBy: &creator,
	})
	if err != nil {
		return model.Game{}, storeerr.Classify("create custom game", err)
	}
	return game, nil
}

func (s *Service) GetGame(ctx context.Context, gameID string) (model.Game, error) {
	if !validate.ID(gameID) {
		return model.Game{}, ErrValidation
	}
	if s.games == nil {
		return model.Game{}, fmt.Errorf("game store is nil")
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	game, err := s.games.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrGameNotFound) {
			return model.Game{}, ErrNotFound
		}
		return model.Game{}, storeerr.Classify("get game", err)
	}
	return game, nil
}

func (s *Service) SearchGames(ctx context.Context, query string, limit int) ([]model.Game, error) {
	if s.games == nil {
		return nil, fmt.Errorf("game store is nil")
	}
	if !validate.MaxRunes(query, maxTitleRunes) {
		return nil, ErrValidation
	}

	ctx, cancel := storeerr.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	items, err := s.games.Search(ctx, query, limit)
	if err != nil {
		return nil, storeerr.Classify("search games", err)
	}
	return items, nil
}
