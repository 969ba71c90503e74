package matching

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
)

type ownershipRow struct {
	userID    string
	gameID    string
	status    enums.OwnershipStatus
	createdAt time.Time
}

// world is an in-memory stand-in for the tables the service touches. Every
// method holds mu for its whole body, mirroring single-statement atomicity.
type world struct {
	mu         sync.Mutex
	users      map[string]model.User
	games      map[string]model.Game
	ownerships []ownershipRow
	sessions   map[string]*pgrepo.MatchingSessionRecord
	history    map[string][]model.HistoryEntry

	finderErr error
	getErr    error
	clearErr  error
}

func newWorld() *world {
	return &world{
		users:    map[string]model.User{},
		games:    map[string]model.Game{},
		sessions: map[string]*pgrepo.MatchingSessionRecord{},
		history:  map[string][]model.HistoryEntry{},
	}
}

func (w *world) addUser(id string) {
	w.users[id] = model.User{ID: id, Email: id + "@example.com", DisplayName: "Player " + id}
}

func (w *world) addGame(id, title string) {
	w.games[id] = model.Game{ID: id, Title: title}
}

func (w *world) own(userID, gameID string, status enums.OwnershipStatus, createdAt time.Time) {
	w.ownerships = append(w.ownerships, ownershipRow{userID: userID, gameID: gameID, status: status, createdAt: createdAt})
}

func (w *world) session(userID string) (pgrepo.MatchingSessionRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.sessions[userID]
	if !ok {
		return pgrepo.MatchingSessionRecord{}, false
	}
	return *rec, true
}

func (w *world) historyOf(userID string) []model.HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.HistoryEntry(nil), w.history[userID]...)
}

type finderView struct{ w *world }

func (f finderView) FindCandidates(
	_ context.Context,
	_ pgx.Tx,
	userID string,
	callerStatus enums.OwnershipStatus,
	counterStatus enums.OwnershipStatus,
	matchType enums.MatchType,
	limit int,
) ([]model.MatchResult, error) {
	w := f.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finderErr != nil {
		return nil, w.finderErr
	}

	type candidate struct {
		row ownershipRow
	}
	var found []candidate
	for _, mine := range w.ownerships {
		if mine.userID != userID || mine.status != callerStatus {
			continue
		}
		for _, other := range w.ownerships {
			if other.gameID != mine.gameID || other.status != counterStatus || other.userID == mine.userID {
				continue
			}
			found = append(found, candidate{row: other})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i].row, found[j].row
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.After(b.createdAt)
		}
		if a.userID != b.userID {
			return a.userID < b.userID
		}
		return a.gameID < b.gameID
	})
	if len(found) > limit {
		found = found[:limit]
	}

	items := make([]model.MatchResult, 0, len(found))
	for _, c := range found {
		u := w.users[c.row.userID]
		g := w.games[c.row.gameID]
		items = append(items, model.MatchResult{
			PlayerID:    u.ID,
			PlayerEmail: u.Email,
			PlayerName:  u.DisplayName,
			GameID:      g.ID,
			GameTitle:   g.Title,
			MatchType:   matchType,
			AddedAt:     c.row.createdAt,
		})
	}
	return items, nil
}

type sessionView struct{ w *world }

func (s sessionView) Get(_ context.Context, userID string) (pgrepo.MatchingSessionRecord, error) {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.getErr != nil {
		return pgrepo.MatchingSessionRecord{}, w.getErr
	}
	rec, ok := w.sessions[userID]
	if !ok {
		return pgrepo.MatchingSessionRecord{}, pgrepo.ErrMatchingSessionAbsent
	}
	return *rec, nil
}

func (s sessionView) RecordAttempt(_ context.Context, _ pgx.Tx, userID string, now, windowCutoff time.Time, maxMatches int, resultsJSON string) (pgrepo.MatchingSessionRecord, error) {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()

	at := now
	rec, ok := w.sessions[userID]
	switch {
	case !ok:
		rec = &pgrepo.MatchingSessionRecord{UserID: userID, SessionStart: now, MatchesUsed: 1}
		w.sessions[userID] = rec
	case !rec.SessionStart.After(windowCutoff) || rec.MatchesUsed == 0:
		rec.SessionStart = now
		rec.MatchesUsed = 1
	case rec.MatchesUsed < maxMatches:
		rec.MatchesUsed++
	default:
		return pgrepo.MatchingSessionRecord{}, pgrepo.ErrMatchBudgetExhausted
	}
	rec.RawLastResults = []byte(resultsJSON)
	rec.LastMatchAt = &at
	return *rec, nil
}

func (s sessionView) Ensure(_ context.Context, _ pgx.Tx, userID string, now time.Time) error {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sessions[userID]; !ok {
		w.sessions[userID] = &pgrepo.MatchingSessionRecord{UserID: userID, SessionStart: now}
	}
	return nil
}

func (s sessionView) RemoveFromLastResults(_ context.Context, _ pgx.Tx, userID, playerID, gameID string) (bool, error) {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.sessions[userID]
	if !ok || len(rec.RawLastResults) == 0 {
		return false, nil
	}
	var items []model.MatchResult
	if err := json.Unmarshal(rec.RawLastResults, &items); err != nil {
		return false, nil
	}
	kept := make([]model.MatchResult, 0, len(items))
	for _, item := range items {
		if item.PlayerID == playerID && item.GameID == gameID {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == len(items) {
		return false, nil
	}
	raw, _ := json.Marshal(kept)
	rec.RawLastResults = raw
	return true, nil
}

func (s sessionView) ClearExpiredForUser(_ context.Context, userID string, cutoff time.Time) (bool, error) {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.clearErr != nil {
		return false, w.clearErr
	}
	rec, ok := w.sessions[userID]
	if !ok || rec.LastMatchAt == nil || rec.LastMatchAt.After(cutoff) {
		return false, nil
	}
	rec.LastMatchAt = nil
	rec.RawLastResults = nil
	return true, nil
}

type historyView struct{ w *world }

func (h historyView) Prepend(_ context.Context, _ pgx.Tx, userID string, entries []model.HistoryEntry) error {
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.history[userID]
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		filtered := make([]model.HistoryEntry, 0, len(list)+1)
		filtered = append(filtered, e)
		for _, existing := range list {
			if existing.Key() == e.Key() {
				continue
			}
			filtered = append(filtered, existing)
		}
		list = filtered
	}
	w.history[userID] = list
	return nil
}

func (h historyView) Trim(_ context.Context, _ pgx.Tx, userID string, keep int) (int64, error) {
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.history[userID]
	if len(list) <= keep {
		return 0, nil
	}
	w.history[userID] = list[:keep]
	return int64(len(list) - keep), nil
}

func (h historyView) Delete(_ context.Context, _ pgx.Tx, userID, playerID, gameID string) (bool, error) {
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.history[userID]
	for i, e := range list {
		if e.PlayerID == playerID && e.GameID == gameID {
			w.history[userID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (h historyView) List(_ context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.history[userID]
	if len(list) > limit {
		list = list[:limit]
	}
	return append([]model.HistoryEntry(nil), list...), nil
}

type userView struct{ w *world }

func (u userView) Get(_ context.Context, userID string) (model.User, error) {
	item, ok := u.w.users[userID]
	if !ok {
		return model.User{}, pgrepo.ErrUserNotFound
	}
	return item, nil
}

type gameView struct{ w *world }

func (g gameView) Get(_ context.Context, gameID string) (model.Game, error) {
	item, ok := g.w.games[gameID]
	if !ok {
		return model.Game{}, pgrepo.ErrGameNotFound
	}
	return item, nil
}

type ownershipView struct{ w *world }

func (o ownershipView) Status(_ context.Context, userID, gameID string) (enums.OwnershipStatus, error) {
	for _, row := range o.w.ownerships {
		if row.userID == userID && row.gameID == gameID {
			return row.status, nil
		}
	}
	return "", pgrepo.ErrOwnershipNotFound
}

type clock struct {
	mu sync.Mutex
	at time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func inlineTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func newTestService(w *world, c *clock) *Service {
	svc := NewService(Dependencies{
		Finder:     finderView{w: w},
		Sessions:   sessionView{w: w},
		History:    historyView{w: w},
		Users:      userView{w: w},
		Games:      gameView{w: w},
		Ownerships: ownershipView{w: w},
	}, Config{QueryTimeout: time.Second})
	svc.runTx = inlineTx
	svc.runReadTx = inlineTx
	svc.now = c.Now
	return svc
}
