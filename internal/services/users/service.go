package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	authsvc "github.com/tradepost/backend/internal/services/auth"
)

var ErrValidation = errors.New("validation error")

type UserStore interface {
	Upsert(ctx context.Context, user model.User) (model.User, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Sync mirrors an identity into the local users table, creating the row on
// first sight.
func (s *Service) Sync(ctx context.Context, identity authsvc.Identity) (model.User, error) {
	if strings.TrimSpace(identity.UserID) == "" || strings.TrimSpace(identity.Email) == "" {
		return model.User{}, ErrValidation
	}
	if s.store == nil {
		return model.User{}, fmt.Errorf("user store is nil")
	}

	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = strings.SplitN(identity.Email, "@", 2)[0]
	}

	user, err := s.store.Upsert(ctx, model.User{
		ID:          identity.UserID,
		Email:       identity.Email,
		DisplayName: name,
		AvatarURL:   identity.AvatarURL,
	})
	if err != nil {
		return model.User{}, storeerr.Classify("sync user", err)
	}
	return user, nil
}
