package sweeperapp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/config"
	"github.com/tradepost/backend/internal/jobs/cleanup"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

type Job interface {
	Run(ctx context.Context) (cleanup.Result, error)
}

type App struct {
	cfg     config.Config
	logger  *zap.Logger
	pool    *pgxpool.Pool
	job     Job
	timeout time.Duration
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgrepo.NewPool(ctx, pgrepo.PoolConfig{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       2,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	sessionRepo := pgrepo.NewMatchingSessionRepo(pool)
	job := cleanup.NewExpiredResultsJob(sessionRepo, cfg.Matching.HistoryRetention, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		job:     job,
		timeout: time.Minute,
	}, nil
}

func (a *App) RunOnce(ctx context.Context) (cleanup.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.job.Run(ctx)
}

// RunEvery sweeps immediately and then on a fixed interval until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (a *App) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = a.cfg.Cleanup.Interval
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.Error("scheduled sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	sched.Start()
	a.logger.Info("sweeper scheduled", zap.Duration("interval", interval))

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	a.logger.Info("sweeper stopped")
	return nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
