package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/config"
	"github.com/tradepost/backend/internal/domain/rules"
	"github.com/tradepost/backend/internal/jobs/cleanup"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
	redrepo "github.com/tradepost/backend/internal/repo/redis"
	authsvc "github.com/tradepost/backend/internal/services/auth"
	collectionsvc "github.com/tradepost/backend/internal/services/collection"
	matchingsvc "github.com/tradepost/backend/internal/services/matching"
	ratesvc "github.com/tradepost/backend/internal/services/rate"
	userssvc "github.com/tradepost/backend/internal/services/users"
	"github.com/tradepost/backend/internal/transport/http/handlers"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, cfg.HTTP.RequestTimeout)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, pgrepo.PoolConfig{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        int32(cfg.Postgres.MaxConns),
		ConnectTimeout:  5 * time.Second,
		HealthCheckEach: time.Minute,
	}); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateRepo := redrepo.NewRateRepo(redisClient)

	userRepo := pgrepo.NewUserRepo(pool)
	gameRepo := pgrepo.NewGameRepo(pool)
	ownershipRepo := pgrepo.NewOwnershipRepo(pool)
	finderRepo := pgrepo.NewMatchFinderRepo(pool)
	sessionRepo := pgrepo.NewMatchingSessionRepo(pool)
	historyRepo := pgrepo.NewMatchHistoryRepo(pool)

	limits := MatchingLimits(cfg.Matching)
	verifier := authsvc.NewVerifier(cfg.Identity.JWTSecret, cfg.Identity.Issuer)
	userService := userssvc.NewService(userRepo)
	burstGuard := ratesvc.NewLimiter(rateRepo, "matching", cfg.Matching.BurstPerMinute, cfg.Matching.BurstPer10Sec)
	matchingService := matchingsvc.NewService(matchingsvc.Dependencies{
		Pool:       pool,
		Finder:     finderRepo,
		Sessions:   sessionRepo,
		History:    historyRepo,
		Users:      userRepo,
		Games:      gameRepo,
		Ownerships: ownershipRepo,
		Burst:      burstGuard,
		Logger:     log.Named("matching"),
	}, matchingsvc.Config{
		Limits:       limits,
		QueryTimeout: cfg.Postgres.QueryTimeout,
	})
	collectionService := collectionsvc.NewService(collectionsvc.Dependencies{
		Pool:       pool,
		Ownerships: ownershipRepo,
		Games:      gameRepo,
		Logger:     log.Named("collection"),
	}, collectionsvc.Config{
		QueryTimeout: cfg.Postgres.QueryTimeout,
	})
	sweeper := cleanup.NewExpiredResultsJob(sessionRepo, limits.Retention, log.Named("cleanup"))

	healthChecks := map[string]handlers.Pinger{
		"redis": handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		"postgres": nil,
	}
	if pool != nil {
		healthChecks["postgres"] = pool
	}

	RegisterRoutes(r, Dependencies{
		TokenParser:       verifier,
		UserSyncer:        userService,
		MatchingService:   matchingService,
		CollectionService: collectionService,
		Sweeper:           sweeper,
		HealthChecks:      healthChecks,
		Logger:            log,
		Config:            cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

// MatchingLimits maps the config section onto the domain limits.
func MatchingLimits(cfg config.MatchingConfig) rules.Limits {
	return rules.Limits{
		MaxMatches:          cfg.MaxMatchesPerWindow,
		Window:              cfg.Window,
		Retention:           cfg.HistoryRetention,
		ResultsPerDirection: cfg.ResultsPerDirection,
		HistoryCap:          cfg.HistoryCap,
	}.Normalize()
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
