package model

import (
	"time"

	"github.com/tradepost/backend/internal/domain/enums"
)

// MatchResult is the unit produced by the match finder and stored both as the
// last result set of a session and as a history entry.
type MatchResult struct {
	PlayerID    string          `json:"player_id"`
	PlayerEmail string          `json:"player_email"`
	PlayerName  string          `json:"player_name"`
	GameID      string          `json:"game_id"`
	GameTitle   string          `json:"game_title"`
	MatchType   enums.MatchType `json:"match_type"`
	AddedAt     time.Time       `json:"added_at"`
	MatchedAt   time.Time       `json:"matched_at"`
}

func (m MatchResult) Key() MatchKey {
	return MatchKey{PlayerID: m.PlayerID, GameID: m.GameID}
}

type MatchKey struct {
	PlayerID string
	GameID   string
}

// DedupeMatches keeps the first occurrence of every (player, game) pair.
func DedupeMatches(items []MatchResult) []MatchResult {
	if items == nil {
		return nil
	}
	seen := make(map[MatchKey]struct{}, len(items))
	out := make([]MatchResult, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		seen[item.Key()] = struct{}{}
		out = append(out, item)
	}
	return out
}

type HistoryEntry struct {
	MatchResult
	Source enums.HistorySource `json:"source"`
}

type MatchingSession struct {
	UserID           string
	SessionStart     time.Time
	MatchesUsed      int
	LastMatchResults []MatchResult
	LastMatchAt      *time.Time
	UpdatedAt        time.Time
}
