package model

import "time"

type Game struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Publisher string    `json:"publisher"`
	Slug      string    `json:"slug"`
	IsCustom  bool      `json:"is_custom"`
	CreatedBy *string   `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
