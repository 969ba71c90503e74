package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tradepost/backend/internal/domain/rules"
)

const (
	minuteWindow = time.Minute
	tenSecWindow = 10 * time.Second
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Limiter is a request burst guard keyed by user and scope. It protects the
// store from floods; it is not the match budget.
type Limiter struct {
	store     WindowStore
	scope     string
	perMinute int
	per10Sec  int
}

func NewLimiter(store WindowStore, scope string, perMinute, per10Sec int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if per10Sec < 0 {
		per10Sec = 0
	}
	if strings.TrimSpace(scope) == "" {
		scope = "default"
	}

	return &Limiter{
		store:     store,
		scope:     scope,
		perMinute: perMinute,
		per10Sec:  per10Sec,
	}
}

func (l *Limiter) Allow(ctx context.Context, userID string) (int64, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, l.key("min", userID), minuteWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.perMinute) {
			retryAfterSec = max(retryAfterSec, atLeastOneSecond(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, l.key("10s", userID), tenSecWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.per10Sec) {
			retryAfterSec = max(retryAfterSec, atLeastOneSecond(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}

	return 0, true, nil
}

func (l *Limiter) RetryAfter(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("invalid user id")
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perMinute > 0 {
		count, ttl, err := l.store.WindowState(ctx, l.key("min", userID))
		if err != nil {
			return 0, err
		}
		if count >= int64(l.perMinute) {
			retryAfterSec = max(retryAfterSec, atLeastOneSecond(ttl))
		}
	}

	if l.per10Sec > 0 {
		count, ttl, err := l.store.WindowState(ctx, l.key("10s", userID))
		if err != nil {
			return 0, err
		}
		if count >= int64(l.per10Sec) {
			retryAfterSec = max(retryAfterSec, atLeastOneSecond(ttl))
		}
	}

	return retryAfterSec, nil
}

func (l *Limiter) key(window, userID string) string {
	return "rate:" + l.scope + ":" + window + ":" + userID
}

func atLeastOneSecond(d time.Duration) int64 {
	sec := rules.CeilSeconds(d)
	if sec <= 0 {
		return 1
	}
	return sec
}
