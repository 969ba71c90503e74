package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost/backend/internal/domain/model"
	authsvc "github.com/tradepost/backend/internal/services/auth"
	collectionsvc "github.com/tradepost/backend/internal/services/collection"
	"github.com/tradepost/backend/internal/transport/http/dto"
	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

type CollectionService interface {
	List(ctx context.Context, userID string) ([]model.Ownership, error)
	SetStatus(ctx context.Context, userID, gameID, status string) (model.Ownership, error)
	Remove(ctx context.Context, userID, gameID string) error
	CreateCustomGame(ctx context.Context, userID, title, publisher string) (model.Game, error)
	SearchGames(ctx context.Context, query string, limit int) ([]model.Game, error)
}

type CollectionHandler struct {
	service CollectionService
}

func NewCollectionHandler(service CollectionService) *CollectionHandler {
	return &CollectionHandler{service: service}
}

func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "COLLECTION_SERVICE_UNAVAILABLE", "collection service is unavailable")
		return
	}

	items, err := h.service.List(r.Context(), identity.UserID)
	if err != nil {
		writeCollectionError(w, err, "failed to load collection")
		return
	}

	resp := dto.CollectionResponse{Items: make([]dto.OwnershipResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, ownershipResponse(item))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *CollectionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "COLLECTION_SERVICE_UNAVAILABLE", "collection service is unavailable")
		return
	}

	var req dto.SetOwnershipStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	item, err := h.service.SetStatus(r.Context(), identity.UserID, chi.URLParam(r, "game_id"), req.Status)
	if err != nil {
		writeCollectionError(w, err, "failed to update collection")
		return
	}

	httperrors.Write(w, http.StatusOK, ownershipResponse(item))
}

func (h *CollectionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "COLLECTION_SERVICE_UNAVAILABLE", "collection service is unavailable")
		return
	}

	if err := h.service.Remove(r.Context(), identity.UserID, chi.URLParam(r, "game_id")); err != nil {
		writeCollectionError(w, err, "failed to remove game from collection")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *CollectionHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "COLLECTION_SERVICE_UNAVAILABLE", "collection service is unavailable")
		return
	}

	var req dto.CreateGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	game, err := h.service.CreateCustomGame(r.Context(), identity.UserID, req.Title, req.Publisher)
	if err != nil {
		writeCollectionError(w, err, "failed to create game")
		return
	}

	httperrors.Write(w, http.StatusCreated, gameResponse(game))
}

func (h *CollectionHandler) SearchGames(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "COLLECTION_SERVICE_UNAVAILABLE", "collection service is unavailable")
		return
	}

	query := r.URL.Query()
	items, err := h.service.SearchGames(r.Context(), query.Get("q"), parseIntOrDefault(query.Get("limit"), 20))
	if err != nil {
		writeCollectionError(w, err, "failed to search games")
		return
	}

	resp := dto.GamesResponse{Items: make([]dto.GameResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, gameResponse(item))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func writeCollectionError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, collectionsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid collection request")
	case errors.Is(err, collectionsvc.ErrNotFound):
		writeNotFound(w, "NOT_FOUND", "game not found")
	default:
		writeStorageError(w, err, message)
	}
}

func ownershipResponse(item model.Ownership) dto.OwnershipResponse {
	return dto.OwnershipResponse{
		GameID:    item.GameID,
		GameTitle: item.GameTitle,
		Publisher: item.Publisher,
		IsCustom:  item.IsCustom,
		Status:    string(item.Status),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func gameResponse(item model.Game) dto.GameResponse {
	return dto.GameResponse{
		ID:        item.ID,
		Title:     item.Title,
		Publisher: item.Publisher,
		Slug:      item.Slug,
		IsCustom:  item.IsCustom,
		CreatedAt: item.CreatedAt,
	}
}
