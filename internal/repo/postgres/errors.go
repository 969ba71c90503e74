package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrGameNotFound          = errors.New("game not found")
	ErrOwnershipNotFound     = errors.New("ownership not found")
	ErrMatchBudgetExhausted  = errors.New("match budget exhausted for current window")
	ErrMatchingSessionAbsent = errors.New("matching session not found")
)

// IsTransient reports whether err is worth retrying: timeouts, cancelled
// waits, dropped connections and server-side availability errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPoolUnavailable) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return true
		}
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return true
		}
	}
	return false
}
