package dto

import "time"

type OwnershipResponse struct {
	GameID    string    `json:"game_id"`
	GameTitle string    `json:"game_title"`
	Publisher string    `json:"publisher"`
	IsCustom  bool      `json:"is_custom"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CollectionResponse struct {
	Items []OwnershipResponse `json:"items"`
}

type SetOwnershipStatusRequest struct {
	Status string `json:"status"`
}

type CreateGameRequest struct {
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
}

type GameResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Publisher string    `json:"publisher"`
	Slug      string    `json:"slug"`
	IsCustom  bool      `json:"is_custom"`
	CreatedAt time.Time `json:"created_at"`
}

type GamesResponse struct {
	Items []GameResponse `json:"items"`
}
