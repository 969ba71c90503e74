// Package storeerr turns storage failures into errors callers can act on.
package storeerr

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

const defaultRetryAfterSec = 2

var ErrQueryFailed = errors.New("query failed")

// TempUnavailableError marks a retryable storage failure.
type TempUnavailableError struct {
	RetryAfterSec int64
	Cause         error
}

func (e TempUnavailableError) Error() string {
	if e.Cause != nil {
		return "storage temporarily unavailable: " + e.Cause.Error()
	}
	return "storage temporarily unavailable"
}

func (e TempUnavailableError) Unwrap() error {
	return e.Cause
}

func (e TempUnavailableError) RetryAfter() int64 {
	if e.RetryAfterSec <= 0 {
		return defaultRetryAfterSec
	}
	return e.RetryAfterSec
}

func IsTempUnavailable(err error) (*TempUnavailableError, bool) {
	var tu TempUnavailableError
	if errors.As(err, &tu) {
		return &tu, true
	}
	return nil, false
}

// Classify wraps err as TempUnavailableError when it is transient and as
// ErrQueryFailed otherwise. Domain sentinels pass through untouched.
func Classify(op string, err error, passthrough ...error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	if _, ok := IsTempUnavailable(err); ok {
		return err
	}
	if pgrepo.IsTransient(err) {
		return TempUnavailableError{RetryAfterSec: defaultRetryAfterSec, Cause: fmt.Errorf("%s: %w", op, err)}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrQueryFailed, err)
}

// WithTimeout bounds a storage call. A non-positive timeout leaves ctx as is.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
