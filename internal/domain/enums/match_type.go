package enums

// MatchType is always relative to the user the result was computed for.
type MatchType string

const (
	// MatchTypeSeeking: the caller wants a game the other player owns.
	MatchTypeSeeking MatchType = "seeking"
	// MatchTypeOffering: the caller owns a game the other player wants.
	MatchTypeOffering MatchType = "offering"
)

type HistorySource string

const (
	HistorySourceMatch      HistorySource = "match"
	HistorySourceInvitation HistorySource = "invitation"
)
