package dto

import "time"

type MatchResultResponse struct {
	PlayerID    string    `json:"player_id"`
	PlayerEmail string    `json:"player_email"`
	PlayerName  string    `json:"player_name"`
	GameID      string    `json:"game_id"`
	GameTitle   string    `json:"game_title"`
	MatchType   string    `json:"match_type"`
	AddedAt     time.Time `json:"added_at"`
	MatchedAt   time.Time `json:"matched_at"`
}

type HistoryInfoResponse struct {
	IsHistorical     bool      `json:"is_historical"`
	LastMatchAt      time.Time `json:"last_match_at"`
	ExpireTime       time.Time `json:"expire_time"`
	RemainingMinutes int       `json:"remaining_minutes"`
}

// MatchOutcomeResponse is shared by the status and run endpoints.
type MatchOutcomeResponse struct {
	Computed          bool                  `json:"computed"`
	Matches           []MatchResultResponse `json:"matches"`
	RateLimited       bool                  `json:"rate_limited"`
	MatchesUsed       int                   `json:"matches_used"`
	MatchesRemaining  int                   `json:"matches_remaining"`
	SecondsUntilReset int64                 `json:"seconds_until_reset"`
	ResetAt           *time.Time            `json:"reset_at,omitempty"`
	RecentMatches     []MatchResultResponse `json:"recent_matches"`
	HistoryInfo       *HistoryInfoResponse  `json:"history_info"`
	RetryAfterSec     int64                 `json:"retry_after_sec,omitempty"`
}

type HistoryEntryResponse struct {
	MatchResultResponse
	Source string `json:"source"`
}

type HistoryResponse struct {
	Items []HistoryEntryResponse `json:"items"`
}

type TradeInvitationRequest struct {
	ToUserID string `json:"to_user_id"`
	GameID   string `json:"game_id"`
}

type TradeInvitationResponse struct {
	OK    bool                 `json:"ok"`
	Entry HistoryEntryResponse `json:"entry"`
}

type SweepResponse struct {
	RunID   string    `json:"run_id"`
	Cutoff  time.Time `json:"cutoff"`
	Cleared int64     `json:"cleared"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
