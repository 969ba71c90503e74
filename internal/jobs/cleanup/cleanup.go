package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/rules"
)

const defaultBatchSize = 500

type ExpiredResultsCleaner interface {
	ClearExpiredBatch(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// Job nulls out match results at least one retention window old. Running it
// twice, or from two processes at once, is safe.
type Job struct {
	cleaner   ExpiredResultsCleaner
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

type Result struct {
	RunID   string
	Cutoff  time.Time
	Cleared int64
}

func NewExpiredResultsJob(cleaner ExpiredResultsCleaner, retention time.Duration, logger *zap.Logger) *Job {
	if retention <= 0 {
		retention = rules.HistoryRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		cleaner:   cleaner,
		retention: retention,
		batchSize: defaultBatchSize,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) (Result, error) {
	result := Result{
		RunID:  uuid.NewString(),
		Cutoff: j.now().UTC().Add(-j.retention),
	}
	if j.cleaner == nil {
		return result, fmt.Errorf("expired results cleaner is nil")
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rows, err := j.cleaner.ClearExpiredBatch(ctx, result.Cutoff, j.batchSize)
		if err != nil {
			return result, fmt.Errorf("clear expired match results: %w", err)
		}
		result.Cleared += rows
		if rows < int64(j.batchSize) {
			break
		}
	}

	j.logger.Info("cleanup expired match results completed",
		zap.String("run_id", result.RunID),
		zap.Time("cutoff", result.Cutoff),
		zap.Int64("cleared", result.Cleared),
	)
	return result, nil
}
