package model

import (
	"time"

	"github.com/tradepost/backend/internal/domain/enums"
)

type Ownership struct {
	UserID    string                `json:"user_id"`
	GameID    string                `json:"game_id"`
	GameTitle string                `json:"game_title"`
	Publisher string                `json:"publisher"`
	IsCustom  bool                  `json:"is_custom"`
	Status    enums.OwnershipStatus `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
