package handlers

import (
	"context"
	"net/http"

	"github.com/tradepost/backend/internal/jobs/cleanup"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	"github.com/tradepost/backend/internal/transport/http/dto"
	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

type Sweeper interface {
	Run(ctx context.Context) (cleanup.Result, error)
}

type AdminHandler struct {
	sweeper Sweeper
}

func NewAdminHandler(sweeper Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

func (h *AdminHandler) SweepExpiredResults(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeInternal(w, "SWEEPER_UNAVAILABLE", "cleanup sweeper is unavailable")
		return
	}

	result, err := h.sweeper.Run(r.Context())
	if err != nil {
		writeStorageError(w, storeerr.Classify("sweep expired results", err), "failed to sweep expired results")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SweepResponse{
		RunID:   result.RunID,
		Cutoff:  result.Cutoff,
		Cleared: result.Cleared,
	})
}
