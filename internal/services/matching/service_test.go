package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tradepost/backend/internal/config"
	"github.com/tradepost/backend/internal/domain/enums"
	"github.com/tradepost/backend/internal/domain/model"
	"github.com/tradepost/backend/internal/pkg/storeerr"
	pgrepo "github.com/tradepost/backend/internal/repo/postgres"
	redrepo "github.com/tradepost/backend/internal/repo/redis"
	ratesvc "github.com/tradepost/backend/internal/services/rate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// tradeScenario: alice wants g1 and owns g2, bob owns g1, carol wants g2.
func tradeScenario() *world {
	w := newWorld()
	for _, id := range []string{"alice", "bob", "carol"} {
		w.addUser(id)
	}
	w.addGame("g1", "Catan")
	w.addGame("g2", "Azul")
	w.own("alice", "g1", enums.OwnershipStatusWanted, t0.Add(-3*time.Hour))
	w.own("alice", "g2", enums.OwnershipStatusOwned, t0.Add(-3*time.Hour))
	w.own("bob", "g1", enums.OwnershipStatusOwned, t0.Add(-2*time.Hour))
	w.own("carol", "g2", enums.OwnershipStatusWanted, t0.Add(-time.Hour))
	return w
}

func TestMatchNowLabelsDirectionsFromCallerSide(t *testing.T) {
	w := tradeScenario()
	svc := newTestService(w, &clock{at: t0})

	out, err := svc.MatchNow(context.Background(), "alice")
	if err != nil {
		t.Fatalf("match now: %v", err)
	}
	if !out.Computed || out.RateLimited {
		t.Fatalf("expected computed run, got %+v", out)
	}
	if len(out.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(out.Matches))
	}
	if m := out.Matches[0]; m.PlayerID != "bob" || m.GameID != "g1" || m.MatchType != enums.MatchTypeSeeking {
		t.Fatalf("unexpected seeking match: %+v", m)
	}
	if m := out.Matches[1]; m.PlayerID != "carol" || m.GameID != "g2" || m.MatchType != enums.MatchTypeOffering {
		t.Fatalf("unexpected offering match: %+v", m)
	}
	for _, m := range out.Matches {
		if m.PlayerID == "alice" {
			t.Fatalf("caller matched with self: %+v", m)
		}
		if !m.MatchedAt.Equal(t0) {
			t.Fatalf("expected matched_at %s, got %s", t0, m.MatchedAt)
		}
	}

	bobOut, err := svc.MatchNow(context.Background(), "bob")
	if err != nil {
		t.Fatalf("match now for bob: %v", err)
	}
	if len(bobOut.Matches) != 1 || bobOut.Matches[0].PlayerID != "alice" || bobOut.Matches[0].MatchType != enums.MatchTypeOffering {
		t.Fatalf("expected bob to offer g1 to alice, got %+v", bobOut.Matches)
	}

	carolOut, err := svc.MatchNow(context.Background(), "carol")
	if err != nil {
		t.Fatalf("match now for carol: %v", err)
	}
	if len(carolOut.Matches) != 1 || carolOut.Matches[0].PlayerID != "alice" || carolOut.Matches[0].MatchType != enums.MatchTypeSeeking {
		t.Fatalf("expected carol to seek g2 from alice, got %+v", carolOut.Matches)
	}
}

func TestFindMatchesCapsEachDirectionNewestFirst(t *testing.T) {
	w := newWorld()
	w.addUser("alice")
	w.addGame("g1", "Catan")
	w.own("alice", "g1", enums.OwnershipStatusWanted, t0)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("u%d", i)
		w.addUser(id)
		w.own(id, "g1", enums.OwnershipStatusOwned, t0.Add(-time.Duration(i)*time.Minute))
	}
	svc := newTestService(w, &clock{at: t0})

	seeking, offering, err := svc.FindMatches(context.Background(), "alice")
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(offering) != 0 {
		t.Fatalf("expected no offering matches, got %d", len(offering))
	}
	if len(seeking) != 3 {
		t.Fatalf("expected 3 seeking matches, got %d", len(seeking))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if seeking[i].PlayerID != want {
			t.Fatalf("seeking[%d]: expected %s, got %s", i, want, seeking[i].PlayerID)
		}
	}
}

func TestFindMatchesFailureConsumesNoBudget(t *testing.T) {
	w := tradeScenario()
	w.finderErr = errors.New("relation does not exist")
	svc := newTestService(w, &clock{at: t0})

	_, err := svc.MatchNow(context.Background(), "alice")
	if !errors.Is(err, storeerr.ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
	if _, ok := w.session("alice"); ok {
		t.Fatalf("expected no session after failed run")
	}

	w.finderErr = context.DeadlineExceeded
	_, err = svc.MatchNow(context.Background(), "alice")
	if _, ok := storeerr.IsTempUnavailable(err); !ok {
		t.Fatalf("expected temp unavailable error, got %v", err)
	}
}

func TestBudgetIsSpentThenRateLimited(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out, err := svc.MatchNow(ctx, "alice")
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !out.Computed || out.MatchesUsed != i || out.MatchesRemaining != 3-i {
			t.Fatalf("run %d: unexpected outcome %+v", i, out)
		}
		c.Advance(10 * time.Minute)
	}

	out, err := svc.MatchNow(ctx, "alice")
	if err != nil {
		t.Fatalf("fourth run: %v", err)
	}
	if out.Computed || !out.RateLimited {
		t.Fatalf("expected rate limited status, got %+v", out)
	}
	if out.MatchesUsed != 3 || out.MatchesRemaining != 0 {
		t.Fatalf("expected spent budget, got used=%d remaining=%d", out.MatchesUsed, out.MatchesRemaining)
	}
	if want := int64((3*time.Hour - 30*time.Minute) / time.Second); out.SecondsUntilReset != want {
		t.Fatalf("expected %d seconds until reset, got %d", want, out.SecondsUntilReset)
	}
	if len(out.Matches) != 0 {
		t.Fatalf("rate limited outcome must not carry new matches")
	}
	if len(out.RecentMatches) != 2 || out.History == nil || !out.History.IsHistorical {
		t.Fatalf("expected live history from the third run, got %+v", out)
	}
	if out.History.RemainingMinutes != 50 {
		t.Fatalf("expected 50 remaining minutes, got %d", out.History.RemainingMinutes)
	}

	rec, _ := w.session("alice")
	if rec.MatchesUsed != 3 {
		t.Fatalf("stored budget moved past the cap: %d", rec.MatchesUsed)
	}
}

func TestWindowResetsAfterThreeHours(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.MatchNow(ctx, "alice"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	c.Advance(3*time.Hour - time.Second)
	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.RateLimited || status.SecondsUntilReset != 1 {
		t.Fatalf("expected 1s left in the window, got %+v", status)
	}

	c.Advance(time.Second)
	status, err = svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.RateLimited || status.MatchesUsed != 0 || status.MatchesRemaining != 3 || status.SecondsUntilReset != 0 {
		t.Fatalf("expected fresh window, got %+v", status)
	}

	out, err := svc.MatchNow(ctx, "alice")
	if err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	if !out.Computed || out.MatchesUsed != 1 {
		t.Fatalf("expected first run of new window, got %+v", out)
	}
	rec, _ := w.session("alice")
	if !rec.SessionStart.Equal(c.Now()) {
		t.Fatalf("expected window to restart at %s, got %s", c.Now(), rec.SessionStart)
	}
}

func TestRecentMatchesExpireAfterRetention(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	if _, err := svc.MatchNow(ctx, "alice"); err != nil {
		t.Fatalf("run: %v", err)
	}

	c.Advance(59 * time.Minute)
	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status at 59m: %v", err)
	}
	if len(status.RecentMatches) != 2 || status.History == nil {
		t.Fatalf("expected live results at 59m, got %+v", status)
	}
	if status.History.RemainingMinutes != 1 || !status.History.ExpireAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected history info: %+v", status.History)
	}

	c.Advance(2 * time.Minute)
	status, err = svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status at 61m: %v", err)
	}
	if status.RecentMatches != nil || status.History != nil {
		t.Fatalf("expected expired results at 61m, got %+v", status)
	}
	if status.MatchesUsed != 1 {
		t.Fatalf("expiry must not touch the budget, got used=%d", status.MatchesUsed)
	}
	rec, _ := w.session("alice")
	if rec.LastMatchAt != nil || rec.RawLastResults != nil {
		t.Fatalf("expected lazy clear of stored results")
	}
}

func TestLazyClearFailureDoesNotFailStatus(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)

	if _, err := svc.MatchNow(context.Background(), "alice"); err != nil {
		t.Fatalf("run: %v", err)
	}
	w.clearErr = errors.New("connection reset")
	c.Advance(2 * time.Hour)

	status, err := svc.CanUserMatch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected status despite clear failure, got %v", err)
	}
	if status.History != nil {
		t.Fatalf("expected expired results to be hidden")
	}
}

func TestMalformedStoredResultsReadAsEmpty(t *testing.T) {
	w := tradeScenario()
	last := t0.Add(-10 * time.Minute)
	w.sessions["alice"] = &pgrepo.MatchingSessionRecord{
		UserID:         "alice",
		SessionStart:   last,
		MatchesUsed:    1,
		RawLastResults: []byte(`{"player_id":`),
		LastMatchAt:    &last,
	}
	svc := newTestService(w, &clock{at: t0})

	status, err := svc.CanUserMatch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.RecentMatches == nil || len(status.RecentMatches) != 0 {
		t.Fatalf("expected empty recent matches, got %+v", status.RecentMatches)
	}
	if status.History == nil || status.History.RemainingMinutes != 50 {
		t.Fatalf("expected history info to survive, got %+v", status.History)
	}
}

func TestStatusRoundTripsLastRun(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	run, err := svc.MatchNow(ctx, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	c.Advance(5 * time.Minute)
	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Computed {
		t.Fatalf("status read must not be marked computed")
	}
	if len(status.RecentMatches) != len(run.Matches) {
		t.Fatalf("expected %d recent matches, got %d", len(run.Matches), len(status.RecentMatches))
	}
	for i := range run.Matches {
		got, want := status.RecentMatches[i], run.Matches[i]
		if got.Key() != want.Key() || got.MatchType != want.MatchType || got.PlayerEmail != want.PlayerEmail || got.GameTitle != want.GameTitle {
			t.Fatalf("recent[%d]: expected %+v, got %+v", i, want, got)
		}
		if !got.MatchedAt.Equal(want.MatchedAt) || !got.AddedAt.Equal(want.AddedAt) {
			t.Fatalf("recent[%d]: timestamps changed in storage", i)
		}
	}

	history := w.historyOf("alice")
	if len(history) != 2 || history[0].Source != enums.HistorySourceMatch {
		t.Fatalf("expected run merged into history, got %+v", history)
	}
}

func TestConcurrentRunsNeverOvershootBudget(t *testing.T) {
	w := tradeScenario()
	svc := newTestService(w, &clock{at: t0})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		computed int
		limited  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.MatchNow(context.Background(), "alice")
			if err != nil {
				t.Errorf("match now: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.Computed {
				computed++
			}
			if out.RateLimited {
				limited++
			}
		}()
	}
	wg.Wait()

	if computed != 3 || limited != 7 {
		t.Fatalf("expected 3 computed and 7 limited, got %d and %d", computed, limited)
	}
	rec, _ := w.session("alice")
	if rec.MatchesUsed != 3 {
		t.Fatalf("expected 3 stored uses, got %d", rec.MatchesUsed)
	}
}

func TestDeleteHistoryEntryFromEitherView(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	if _, err := svc.MatchNow(ctx, "alice"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := svc.DeleteHistoryEntry(ctx, "alice", "bob", "g1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.RecentMatches) != 1 || status.RecentMatches[0].PlayerID != "carol" {
		t.Fatalf("expected only carol left in recent matches, got %+v", status.RecentMatches)
	}
	for _, e := range w.historyOf("alice") {
		if e.PlayerID == "bob" && e.GameID == "g1" {
			t.Fatalf("entry still in history")
		}
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "bob", "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	// After expiry the entry lives only in the history log.
	c.Advance(61 * time.Minute)
	if _, err := svc.CanUserMatch(ctx, "alice"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "carol", "g2"); err != nil {
		t.Fatalf("delete history-only entry: %v", err)
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "carol", "g2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEntryOnlyInLastResults(t *testing.T) {
	w := tradeScenario()
	last := t0.Add(-5 * time.Minute)
	w.sessions["alice"] = &pgrepo.MatchingSessionRecord{
		UserID:         "alice",
		SessionStart:   last,
		MatchesUsed:    1,
		RawLastResults: []byte(`[{"player_id":"bob","game_id":"g1","match_type":"seeking"},{"player_id":"carol","game_id":"g2","match_type":"offering"}]`),
		LastMatchAt:    &last,
	}
	svc := newTestService(w, &clock{at: t0})
	ctx := context.Background()

	if len(w.historyOf("alice")) != 0 {
		t.Fatalf("expected empty history log")
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "bob", "g1"); err != nil {
		t.Fatalf("delete results-only entry: %v", err)
	}
	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.RecentMatches) != 1 || status.RecentMatches[0].PlayerID != "carol" {
		t.Fatalf("expected only carol left, got %+v", status.RecentMatches)
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "bob", "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestExpiryBoundaryHidesAndClearsTogether(t *testing.T) {
	w := tradeScenario()
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	if _, err := svc.MatchNow(ctx, "alice"); err != nil {
		t.Fatalf("run: %v", err)
	}
	c.Advance(60 * time.Minute)

	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.RecentMatches != nil || status.History != nil {
		t.Fatalf("expected results hidden at the retention boundary, got %+v", status)
	}
	rec, _ := w.session("alice")
	if rec.LastMatchAt != nil || rec.RawLastResults != nil {
		t.Fatalf("expected stored results cleared at the boundary, got %+v", rec)
	}
}

func TestFirstRunAfterInvitationOpensWindow(t *testing.T) {
	w := tradeScenario()
	w.addUser("dave")
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	if _, err := svc.RecordTradeInvitation(ctx, "dave", "alice", "g1"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	c.Advance(2 * time.Hour)
	runAt := c.Now()

	var out Outcome
	for i := 0; i < 3; i++ {
		var err error
		if out, err = svc.MatchNow(ctx, "alice"); err != nil || !out.Computed {
			t.Fatalf("run #%d: %+v err=%v", i+1, out, err)
		}
	}
	if out.SecondsUntilReset != int64((3 * time.Hour).Seconds()) {
		t.Fatalf("expected window to start at the first run, got %ds until reset", out.SecondsUntilReset)
	}
	rec, _ := w.session("alice")
	if !rec.SessionStart.Equal(runAt) {
		t.Fatalf("expected session start %s, got %s", runAt, rec.SessionStart)
	}

	c.Advance(90 * time.Minute)
	if out, _ = svc.MatchNow(ctx, "alice"); out.Computed || !out.RateLimited {
		t.Fatalf("expected budget still spent 90 minutes later, got %+v", out)
	}
}

func TestRecordTradeInvitation(t *testing.T) {
	w := tradeScenario()
	w.addUser("dave")
	w.addGame("g3", "Brass")
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	entry, err := svc.RecordTradeInvitation(ctx, "dave", "alice", "g1")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if entry.Source != enums.HistorySourceInvitation || entry.MatchType != enums.MatchTypeSeeking {
		t.Fatalf("unexpected invitation entry: %+v", entry)
	}
	if entry.PlayerID != "dave" || entry.PlayerEmail != "dave@example.com" || entry.GameTitle != "Catan" {
		t.Fatalf("invitation must describe the sender: %+v", entry)
	}

	rec, ok := w.session("alice")
	if !ok || rec.MatchesUsed != 0 {
		t.Fatalf("expected idle session for recipient, got %+v (exists=%v)", rec, ok)
	}

	c.Advance(time.Minute)
	if entry, err = svc.RecordTradeInvitation(ctx, "dave", "alice", "g2"); err != nil || entry.MatchType != enums.MatchTypeOffering {
		t.Fatalf("expected offering invitation for owned game, got %+v err=%v", entry, err)
	}
	c.Advance(time.Minute)
	if entry, err = svc.RecordTradeInvitation(ctx, "dave", "alice", "g3"); err != nil || entry.MatchType != enums.MatchTypeOffering {
		t.Fatalf("expected offering default for unlisted game, got %+v err=%v", entry, err)
	}

	history := w.historyOf("alice")
	if len(history) != 3 || history[0].GameID != "g3" || history[2].GameID != "g1" {
		t.Fatalf("expected newest invitation first, got %+v", history)
	}

	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.MatchesUsed != 0 || status.RateLimited {
		t.Fatalf("invitations must not spend budget, got %+v", status)
	}

	if _, err := svc.RecordTradeInvitation(ctx, "alice", "alice", "g1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for self invitation, got %v", err)
	}
	if _, err := svc.RecordTradeInvitation(ctx, "dave", "alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown game, got %v", err)
	}
	if _, err := svc.RecordTradeInvitation(ctx, "dave", "nobody", "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown recipient, got %v", err)
	}
}

func TestHistoryIsCappedAndDeduplicated(t *testing.T) {
	w := newWorld()
	w.addUser("alice")
	w.addGame("g1", "Catan")
	c := &clock{at: t0}
	svc := newTestService(w, c)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		id := fmt.Sprintf("p%03d", i)
		w.addUser(id)
		if _, err := svc.RecordTradeInvitation(ctx, id, "alice", "g1"); err != nil {
			t.Fatalf("invite %d: %v", i, err)
		}
		c.Advance(time.Second)
	}

	history := w.historyOf("alice")
	if len(history) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(history))
	}
	if history[0].PlayerID != "p104" || history[99].PlayerID != "p005" {
		t.Fatalf("unexpected window: first=%s last=%s", history[0].PlayerID, history[99].PlayerID)
	}

	if _, err := svc.RecordTradeInvitation(ctx, "p050", "alice", "g1"); err != nil {
		t.Fatalf("repeat invite: %v", err)
	}
	history = w.historyOf("alice")
	if len(history) != 100 || history[0].PlayerID != "p050" {
		t.Fatalf("expected repeat to move to the top without growing, got len=%d first=%s", len(history), history[0].PlayerID)
	}
	seen := map[model.MatchKey]bool{}
	for _, e := range history {
		if seen[e.Key()] {
			t.Fatalf("duplicate history entry %+v", e.Key())
		}
		seen[e.Key()] = true
	}

	listed, err := svc.ListHistory(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 10 || listed[0].PlayerID != "p050" {
		t.Fatalf("unexpected listed history: %d entries", len(listed))
	}
}

type burstStub struct {
	retryAfter int64
	allowed    bool
	err        error
	allows     int
}

func (b *burstStub) Allow(context.Context, string) (int64, bool, error) {
	b.allows++
	return b.retryAfter, b.allowed, b.err
}

func (b *burstStub) RetryAfter(context.Context, string) (int64, error) {
	if b.allowed {
		return 0, b.err
	}
	return b.retryAfter, b.err
}

func TestBurstGuardAnswersWithRateLimitedOutcome(t *testing.T) {
	w := tradeScenario()
	svc := newTestService(w, &clock{at: t0})

	svc.burst = &burstStub{retryAfter: 7}
	out, err := svc.MatchNow(context.Background(), "alice")
	if err != nil {
		t.Fatalf("match now: %v", err)
	}
	if out.Computed || !out.RateLimited || out.RetryAfterSec != 7 {
		t.Fatalf("expected rate limited outcome with retry 7, got %+v", out)
	}
	if out.MatchesRemaining != 3 {
		t.Fatalf("throttled run must report the untouched budget, got %d", out.MatchesRemaining)
	}
	if _, ok := w.session("alice"); ok {
		t.Fatalf("throttled run must not touch the budget")
	}

	svc.burst = &burstStub{err: errors.New("redis down")}
	out, err = svc.MatchNow(context.Background(), "alice")
	if err != nil || !out.Computed {
		t.Fatalf("expected burst guard to fail open, got %+v err=%v", out, err)
	}
}

func TestBurstGuardNotCountedWhenBudgetSpent(t *testing.T) {
	w := tradeScenario()
	last := t0.Add(-10 * time.Minute)
	w.sessions["alice"] = &pgrepo.MatchingSessionRecord{UserID: "alice", SessionStart: last, MatchesUsed: 3, LastMatchAt: &last}
	svc := newTestService(w, &clock{at: t0})
	guard := &burstStub{allowed: true}
	svc.burst = guard

	out, err := svc.MatchNow(context.Background(), "alice")
	if err != nil {
		t.Fatalf("match now: %v", err)
	}
	if !out.RateLimited || out.RetryAfterSec != 0 {
		t.Fatalf("expected budget limited outcome, got %+v", out)
	}
	if guard.allows != 0 {
		t.Fatalf("expected no burst hit for a spent budget, got %d", guard.allows)
	}
}

func newRedisBurstGuard(t *testing.T) (*miniredis.Miniredis, *ratesvc.Limiter) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	cfg := config.Default()
	return mr, ratesvc.NewLimiter(redrepo.NewRateRepo(client), "matching", cfg.Matching.BurstPerMinute, cfg.Matching.BurstPer10Sec)
}

func TestConcurrentRunsWithDefaultBurstGuard(t *testing.T) {
	w := tradeScenario()
	svc := newTestService(w, &clock{at: t0})
	_, guard := newRedisBurstGuard(t)
	svc.burst = guard

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		computed int
		limited  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.MatchNow(context.Background(), "alice")
			if err != nil {
				t.Errorf("match now: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.Computed {
				computed++
			}
			if out.RateLimited {
				limited++
			}
		}()
	}
	wg.Wait()

	if computed != 3 || limited != 7 {
		t.Fatalf("expected 3 computed and 7 limited, got %d and %d", computed, limited)
	}
	if rec, _ := w.session("alice"); rec.MatchesUsed != 3 {
		t.Fatalf("expected 3 stored uses, got %d", rec.MatchesUsed)
	}
}

func TestStatusReportsBurstBackoffWithoutCounting(t *testing.T) {
	w := tradeScenario()
	svc := newTestService(w, &clock{at: t0})
	mr, guard := newRedisBurstGuard(t)
	svc.burst = guard
	ctx := context.Background()

	status, err := svc.CanUserMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.RetryAfterSec != 0 {
		t.Fatalf("expected no backoff before any run, got %d", status.RetryAfterSec)
	}

	limit := config.Default().Matching.BurstPer10Sec
	for i := 0; i < limit; i++ {
		if _, allowed, err := guard.Allow(ctx, "alice"); err != nil || !allowed {
			t.Fatalf("allow #%d: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	for i := 0; i < 2; i++ {
		status, err = svc.CanUserMatch(ctx, "alice")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.RetryAfterSec <= 0 || status.RetryAfterSec > 10 {
			t.Fatalf("expected pending backoff, got %d", status.RetryAfterSec)
		}
		if status.RateLimited {
			t.Fatalf("a status read is limited by the budget only")
		}
	}

	got, err := mr.Get("rate:matching:10s:alice")
	if err != nil {
		t.Fatalf("read window counter: %v", err)
	}
	if got != fmt.Sprint(limit) {
		t.Fatalf("status reads must not bump the counter, got %s", got)
	}
}

func TestValidation(t *testing.T) {
	svc := newTestService(newWorld(), &clock{at: t0})
	ctx := context.Background()

	if _, err := svc.MatchNow(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.CanUserMatch(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := svc.DeleteHistoryEntry(ctx, "alice", "", "g1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
