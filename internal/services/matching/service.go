package matching

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/domain/rules"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrRateLimited is returned by RecordMatchingAttempt when the window
	// budget is spent. MatchNow turns it into a rate limited outcome.
	ErrRateLimited = errors.New("match budget exhausted")
)

type FinderStore interface {
	FindCandidates(
		ctx context.Context,
		tx pgx.Tx,
		userID string,
		callerStatus enums.OwnershipStatus,
		counterStatus enums.OwnershipStatus,
		matchType enums.MatchType,
		limit int,
	) ([]model.MatchResult, error)
}

type SessionStore interface {
	Get(ctx context.Context, userID string) (pgrepo.MatchingSessionRecord, error)
	RecordAttempt(ctx context.Context, tx pgx.Tx, userID string, now, windowCutoff time.Time, maxMatches int, resultsJSON string) (pgrepo.MatchingSessionRecord, error)
	Ensure(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error
	RemoveFromLastResults(ctx context.Context, tx pgx.Tx, userID, playerID, gameID string) (bool, error)
	ClearExpiredForUser(ctx context.Context, userID string, cutoff time.Time) (bool, error)
}

type HistoryStore interface {
	Prepend(ctx context.Context, tx pgx.Tx, userID string, entries []model.HistoryEntry) error
	Trim(ctx context.Context, tx pgx.Tx, userID string, keep int) (int64, error)
	Delete(ctx context.Context, tx pgx.Tx, userID, playerID, gameID string) (bool, error)
	List(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error)
}

type UserReader interface {
	Get(ctx context.Context, userID string) (model.User, error)
}

type GameReader interface {
	Get(ctx context.Context, gameID string) (model.Game, error)
}

type OwnershipReader interface {
	Status(ctx context.Context, userID, gameID string) (enums.OwnershipStatus, error)
}

// BurstGuard throttles request floods. Allow counts a call; RetryAfter only
// reads the current backoff.
type BurstGuard interface {
	Allow(ctx context.Context, userID string) (int64, bool, error)
	RetryAfter(ctx context.Context, userID string) (int64, error)
}

type TxRunner func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error

type Dependencies struct {
	Pool       *pgxpool.Pool
	Finder     FinderStore
	Sessions   SessionStore
	History    HistoryStore
	Users      UserReader
	Games      GameReader
	Ownerships OwnershipReader
	Burst      BurstGuard
	Logger     *zap.Logger
}

type Config struct {
	Limits       rules.Limits
	QueryTimeout time.Duration
}

type Service struct {
	finder     FinderStore
	sessions   SessionStore
	history    HistoryStore
	users      UserReader
	games      GameReader
	ownerships OwnershipReader
	burst      BurstGuard
	runTx      TxRunner
	runReadTx  TxRunner
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	cfg.Limits = cfg.Limits.Normalize()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := deps.Pool

	return &Service{
		finder:     deps.Finder,
		sessions:   deps.Sessions,
		history:    deps.History,
		users:      deps.Users,
		games:      deps.Games,
		ownerships: deps.Ownerships,
		burst:      deps.Burst,
		runTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithTx(ctx, pool, fn)
		},
		runReadTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithReadTx(ctx, pool, fn)
		},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Limits() rules.Limits {
	return s.cfg.Limits
}

// Outcome is the uniform answer of a status read and a match run. Computed
// tells them apart.
type Outcome struct {
	Computed          bool
	Matches           []model.MatchResult
	RateLimited       bool
	MatchesUsed       int
	MatchesRemaining  int
	SecondsUntilReset int64
	ResetAt           *time.Time
	RecentMatches     []model.MatchResult
	History           *HistoryInfo
	// RetryAfterSec is the burst backoff, 0 when calls are not throttled.
	RetryAfterSec int64
}

type HistoryInfo struct {
	IsHistorical     bool
	LastMatchAt      time.Time
	ExpireAt         time.Time
	RemainingMinutes int
}

// checkBurst counts a run against the burst guard. Guard failures let the
// call through.
func (s *Service) checkBurst(ctx context.Context, userID string) (int64, bool) {
	if s.burst == nil {
		return 0, true
	}
	retryAfter, allowed, err := s.burst.Allow(ctx, userID)
	if err != nil {
		s.logger.Warn("burst guard unavailable, allowing request", zap.String("user_id", userID), zap.Error(err))
		return 0, true
	}
	return retryAfter, allowed
}

func (s *Service) burstBackoff(ctx context.Context, userID string) int64 {
	if s.burst == nil {
		return 0
	}
	retryAfter, err := s.burst.RetryAfter(ctx, userID)
	if err != nil {
		s.logger.Warn("burst guard unavailable, skipping backoff", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return retryAfter
}
