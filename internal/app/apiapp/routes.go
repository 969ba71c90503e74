package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/config"
	"github.com/tradepost/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	TokenParser       TokenParser
	UserSyncer        UserSyncer
	MatchingService   handlers.MatchingService
	CollectionService handlers.CollectionService
	Sweeper           handlers.Sweeper
	HealthChecks      map[string]handlers.Pinger
	Logger            *zap.Logger
	Config            config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)
	matchingHandler := handlers.NewMatchingHandler(deps.MatchingService)
	collectionHandler := handlers.NewCollectionHandler(deps.CollectionService)
	adminHandler := handlers.NewAdminHandler(deps.Sweeper)
	authMW := AuthMiddleware(deps.TokenParser, deps.UserSyncer, deps.Logger)
	adminMW := AdminTokenMiddleware(deps.Config.Admin.Token, deps.Logger)

	r.Get("/healthz", healthHandler.Get)
	r.Get("/readyz", healthHandler.Ready)

	r.Route("/admin", func(r chi.Router) {
		r.With(adminMW).Post("/matching/sweep", adminHandler.SweepExpiredResults)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW)

		r.Get("/matching/status", matchingHandler.Status)
		r.Post("/matching/run", matchingHandler.Run)
		r.Get("/matching/run", matchingHandler.Run)
		r.Get("/matching/history", matchingHandler.History)
		r.Delete("/matching/history/{player_id}/{game_id}", matchingHandler.DeleteHistoryEntry)
		r.Post("/trade-invitations", matchingHandler.RecordTradeInvitation)

		r.Get("/collection", collectionHandler.List)
		r.Put("/collection/{game_id}", collectionHandler.SetStatus)
		r.Delete("/collection/{game_id}", collectionHandler.Remove)

		r.Get("/games", collectionHandler.SearchGames)
		r.Post("/games", collectionHandler.CreateGame)
	})
}
