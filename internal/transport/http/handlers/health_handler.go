package handlers

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Get is liveness only and never touches a backend.
func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if check == nil {
			deps[name] = "disabled"
			continue
		}
		if err := check.Ping(ctx); err != nil {
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	httperrors.Write(w, status, struct {
		OK   bool              `json:"ok"`
		Deps map[string]string `json:"deps"`
	}{OK: status == http.StatusOK, Deps: deps})
}
