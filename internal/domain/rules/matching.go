package rules

import "time"

const (
	MaxMatchesPerWindow = 3
	MatchWindow         = 3 * time.Hour
	HistoryRetention    = 60 * time.Minute
	ResultsPerDirection = 3
	HistoryCap          = 100
)

type Limits struct {
	MaxMatches          int
	Window              time.Duration
	Retention           time.Duration
	ResultsPerDirection int
	HistoryCap          int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMatches:          MaxMatchesPerWindow,
		Window:              MatchWindow,
		Retention:           HistoryRetention,
		ResultsPerDirection: ResultsPerDirection,
		HistoryCap:          HistoryCap,
	}
}

// Normalize replaces non-positive values with the defaults.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	if l.MaxMatches <= 0 {
		l.MaxMatches = def.MaxMatches
	}
	if l.Window <= 0 {
		l.Window = def.Window
	}
	if l.Retention <= 0 {
		l.Retention = def.Retention
	}
	if l.ResultsPerDirection <= 0 {
		l.ResultsPerDirection = def.ResultsPerDirection
	}
	if l.HistoryCap <= 0 {
		l.HistoryCap = def.HistoryCap
	}
	return l
}

// WindowElapsed reports whether now - sessionStart >= window.
func WindowElapsed(now, sessionStart time.Time, window time.Duration) bool {
	return !now.Before(sessionStart.Add(window))
}

type Budget struct {
	Used              int
	Remaining         int
	CanMatch          bool
	SecondsUntilReset int64
	ResetAt           *time.Time
}

// EvaluateBudget computes the rate budget as of now. A missing or elapsed
// window reads as a fresh one. SecondsUntilReset counts down to the end of
// the current window and is reported whenever part of the budget is used.
func EvaluateBudget(now time.Time, sessionStart *time.Time, used int, l Limits) Budget {
	l = l.Normalize()
	if sessionStart == nil || WindowElapsed(now, *sessionStart, l.Window) {
		return Budget{
			Used:      0,
			Remaining: l.MaxMatches,
			CanMatch:  true,
		}
	}

	if used < 0 {
		used = 0
	}
	if used > l.MaxMatches {
		used = l.MaxMatches
	}

	budget := Budget{
		Used:      used,
		Remaining: l.MaxMatches - used,
		CanMatch:  used < l.MaxMatches,
	}
	if used > 0 {
		resetAt := sessionStart.Add(l.Window).UTC()
		budget.ResetAt = &resetAt
		budget.SecondsUntilReset = CeilSeconds(resetAt.Sub(now))
	}
	return budget
}

type HistoryWindow struct {
	LastMatchAt      time.Time
	ExpireAt         time.Time
	RemainingMinutes int
}

// EvaluateHistory reports whether results computed at lastMatchAt are still
// live: now - lastMatchAt < retention.
func EvaluateHistory(now time.Time, lastMatchAt *time.Time, retention time.Duration) (HistoryWindow, bool) {
	if lastMatchAt == nil {
		return HistoryWindow{}, false
	}
	if retention <= 0 {
		retention = HistoryRetention
	}
	if now.Sub(*lastMatchAt) >= retention {
		return HistoryWindow{}, false
	}

	expireAt := lastMatchAt.Add(retention).UTC()
	return HistoryWindow{
		LastMatchAt:      lastMatchAt.UTC(),
		ExpireAt:         expireAt,
		RemainingMinutes: ceilMinutes(expireAt.Sub(now)),
	}, true
}

func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	minutes := int(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes
}
