package apiapp

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	authsvc "github.com/tradepost/backend/internal/services/auth"
	httperrors "github.com/tradepost/backend/internal/transport/http/errors"
)

const adminTokenHeader = "X-Admin-Token"

type TokenParser interface {
	Parse(raw string) (authsvc.Identity, error)
}

type UserSyncer interface {
	Sync(ctx context.Context, identity authsvc.Identity) (model.User, error)
}

func ApplyMiddlewares(r chiRouter, log *zap.Logger, requestTimeout time.Duration) {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(requestLogger(log))
}

// AuthMiddleware verifies the bearer token and mirrors the identity into the
// users table before the request reaches a handler.
func AuthMiddleware(parser TokenParser, users UserSyncer, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
					Code:    "AUTH_SERVICE_UNAVAILABLE",
					Message: "auth service is unavailable",
				})
				return
			}

			accessToken, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "missing bearer token",
				})
				return
			}

			identity, err := parser.Parse(accessToken)
			if err != nil {
				if log != nil {
					log.Debug("auth middleware validation failed", zap.Error(err))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid access token",
				})
				return
			}

			if users != nil {
				if _, err := users.Sync(r.Context(), identity); err != nil {
					if log != nil {
						log.Warn("user sync failed", zap.String("user_id", identity.UserID), zap.Error(err))
					}
					if tu, ok := storeerr.IsTempUnavailable(err); ok {
						httperrors.WriteRetryable(w, http.StatusServiceUnavailable, httperrors.RetryableError{
							Code:          "TEMP_UNAVAILABLE",
							Message:       "storage temporarily unavailable",
							RetryAfterSec: tu.RetryAfter(),
						})
						return
					}
					httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
						Code:    "INTERNAL_ERROR",
						Message: "failed to sync user",
					})
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(authsvc.WithIdentity(r.Context(), identity)))
		})
	}
}

// AdminTokenMiddleware guards operator endpoints with a shared secret. An
// empty configured token disables them.
func AdminTokenMiddleware(token string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(token) == "" {
				httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
					Code:    "ADMIN_DISABLED",
					Message: "admin endpoints are disabled",
				})
				return
			}

			provided := r.Header.Get(adminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				if log != nil {
					log.Warn("admin token rejected", zap.String("path", r.URL.Path))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid admin token",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
