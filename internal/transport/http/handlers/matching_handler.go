package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost/backend/internal/domain/model"
	authsvc "github.com/tradepost/backend/internal/services/auth"
	matchingsvc "github.com/tradepost/backend/internal/services/matching"
	"github.com/tradepost/backend/internal/transport/http/dto"
	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

type MatchingService interface {
	CanUserMatch(ctx context.Context, userID string) (matchingsvc.Outcome, error)
	MatchNow(ctx context.Context, userID string) (matchingsvc.Outcome, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error)
	DeleteHistoryEntry(ctx context.Context, userID, playerID, gameID string) error
	RecordTradeInvitation(ctx context.Context, fromUserID, toUserID, gameID string) (model.HistoryEntry, error)
}

type MatchingHandler struct {
	service MatchingService
}

func NewMatchingHandler(service MatchingService) *MatchingHandler {
	return &MatchingHandler{service: service}
}

func (h *MatchingHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCHING_SERVICE_UNAVAILABLE", "matching service is unavailable")
		return
	}

	out, err := h.service.CanUserMatch(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, err, "failed to load matching status")
		return
	}

	httperrors.Write(w, http.StatusOK, outcomeResponse(out))
}

func (h *MatchingHandler) Run(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCHING_SERVICE_UNAVAILABLE", "matching service is unavailable")
		return
	}

	out, err := h.service.MatchNow(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, err, "failed to run matching")
		return
	}

	httperrors.Write(w, http.StatusOK, outcomeResponse(out))
}

func (h *MatchingHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCHING_SERVICE_UNAVAILABLE", "matching service is unavailable")
		return
	}

	items, err := h.service.ListHistory(r.Context(), identity.UserID, parseIntOrDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		h.writeError(w, err, "failed to load match history")
		return
	}

	resp := dto.HistoryResponse{Items: make([]dto.HistoryEntryResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, historyEntryResponse(item))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *MatchingHandler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCHING_SERVICE_UNAVAILABLE", "matching service is unavailable")
		return
	}

	err := h.service.DeleteHistoryEntry(r.Context(), identity.UserID, chi.URLParam(r, "player_id"), chi.URLParam(r, "game_id"))
	if err != nil {
		h.writeError(w, err, "failed to delete history entry")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *MatchingHandler) RecordTradeInvitation(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "MATCHING_SERVICE_UNAVAILABLE", "matching service is unavailable")
		return
	}

	var req dto.TradeInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	entry, err := h.service.RecordTradeInvitation(r.Context(), identity.UserID, req.ToUserID, req.GameID)
	if err != nil {
		h.writeError(w, err, "failed to record trade invitation")
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.TradeInvitationResponse{OK: true, Entry: historyEntryResponse(entry)})
}

func (h *MatchingHandler) writeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, matchingsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid matching request")
	case errors.Is(err, matchingsvc.ErrNotFound):
		writeNotFound(w, "NOT_FOUND", "entry not found")
	default:
		writeStorageError(w, err, message)
	}
}

func outcomeResponse(out matchingsvc.Outcome) dto.MatchOutcomeResponse {
	resp := dto.MatchOutcomeResponse{
		Computed:          out.Computed,
		Matches:           matchResultsResponse(out.Matches),
		RateLimited:       out.RateLimited,
		MatchesUsed:       out.MatchesUsed,
		MatchesRemaining:  out.MatchesRemaining,
		SecondsUntilReset: out.SecondsUntilReset,
		ResetAt:           out.ResetAt,
		RetryAfterSec:     out.RetryAfterSec,
	}
	if resp.Matches == nil {
		resp.Matches = []dto.MatchResultResponse{}
	}
	if out.RecentMatches != nil {
		resp.RecentMatches = matchResultsResponse(out.RecentMatches)
	}
	if out.History != nil {
		resp.HistoryInfo = &dto.HistoryInfoResponse{
			IsHistorical:     out.History.IsHistorical,
			LastMatchAt:      out.History.LastMatchAt,
			ExpireTime:       out.History.ExpireAt,
			RemainingMinutes: out.History.RemainingMinutes,
		}
	}
	return resp
}

func matchResultsResponse(items []model.MatchResult) []dto.MatchResultResponse {
	if items == nil {
		return nil
	}
	out := make([]dto.MatchResultResponse, 0, len(items))
	for _, item := range items {
		out = append(out, matchResultResponse(item))
	}
	return out
}

func matchResultResponse(item model.MatchResult) dto.MatchResultResponse {
	return dto.MatchResultResponse{
		PlayerID:    item.PlayerID,
		PlayerEmail: item.PlayerEmail,
		PlayerName:  item.PlayerName,
		GameID:      item.GameID,
		GameTitle:   item.GameTitle,
		MatchType:   string(item.MatchType),
		AddedAt:     item.AddedAt,
		MatchedAt:   item.MatchedAt,
	}
}

func historyEntryResponse(item model.HistoryEntry) dto.HistoryEntryResponse {
	return dto.HistoryEntryResponse{
		MatchResultResponse: matchResultResponse(item.MatchResult),
		Source:              string(item.Source),
	}
}
