package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

func TestRecordCheckin_DuplicateCategorySameDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "alice", Category: checkin.Physical, Note: "run"})
	require.NoError(t, err)
	assert.Equal(t, 10, first.Points)
	assert.Equal(t, "2026-03-10", first.Date)
	assert.Equal(t, 1, first.CurrentStreak)

	_, err = e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "alice", Category: checkin.Physical})
	assert.ErrorIs(t, err, shared.ErrDuplicateCategoryToday)

	today := timeutil.DayOf(testNow, time.UTC)
	n, err := e.store.Checkins().CountBetween(ctx, "alice", today, today)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "alice", Category: checkin.Emotional})
	require.NoError(t, err)
	assert.Equal(t, 20, other.TotalPoints)
	assert.Len(t, e.events.ofType(shared.EventCheckinRecorded), 2)
}

func TestRecordCheckin_ConcurrentDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		dupes    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "bob", Category: checkin.Professional})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case assert.ErrorIs(t, err, shared.ErrDuplicateCategoryToday):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, callers-1, dupes)
	total, err := e.store.Checkins().SumPoints(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestRecordCheckin_DateWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	today := timeutil.DayOf(testNow, time.UTC)

	_, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "carol", Category: checkin.Intellectual, Date: timeutil.AddDays(today, -1)})
	assert.NoError(t, err)

	_, err = e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "carol", Category: checkin.Intellectual, Date: timeutil.AddDays(today, -2)})
	assert.ErrorIs(t, err, shared.ErrCheckinDateNotAllowed)

	_, err = e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "carol", Category: checkin.Intellectual, Date: timeutil.AddDays(today, 1)})
	assert.True(t, shared.IsValidation(err))

	_, err = e.checkin.Handle(ctx, RecordCheckinCommand{UserID: "carol", Category: "X"})
	assert.ErrorIs(t, err, shared.ErrInvalidCategory)
}

type fakeGuard struct {
	claimed  map[checkin.Key]bool
	released []checkin.Key
	err      error
}

func (g *fakeGuard) Claim(_ context.Context, k checkin.Key) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.claimed[k] {
		return false, nil
	}
	g.claimed[k] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, k checkin.Key) error {
	g.released = append(g.released, k)
	delete(g.claimed, k)
	return nil
}

func TestRecordCheckin_Guard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	guard := &fakeGuard{claimed: map[checkin.Key]bool{}}
	h := NewRecordCheckinHandler(e.store.Users(), e.store.Checkins(), guard, e.score, e.events, e.clock, time.UTC, DefaultRecordCheckinConfig(), nil)

	_, err := h.Handle(ctx, RecordCheckinCommand{UserID: "dave", Category: checkin.Physical})
	require.NoError(t, err)

	_, err = h.Handle(ctx, RecordCheckinCommand{UserID: "dave", Category: checkin.Physical})
	assert.ErrorIs(t, err, shared.ErrDuplicateCategoryToday)
	assert.Empty(t, guard.released)

	// A guard outage must not block check-ins; the ledger still rejects
	// duplicates.
	guard.err = assert.AnError
	_, err = h.Handle(ctx, RecordCheckinCommand{UserID: "dave", Category: checkin.Emotional})
	assert.NoError(t, err)
	_, err = h.Handle(ctx, RecordCheckinCommand{UserID: "dave", Category: checkin.Emotional})
	assert.ErrorIs(t, err, shared.ErrDuplicateCategoryToday)
}

// ctxGuard behaves like Redis: calls fail once the context is done.
type ctxGuard struct {
	fakeGuard
}

func (g *ctxGuard) Claim(ctx context.Context, k checkin.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.fakeGuard.Claim(ctx, k)
}

func (g *ctxGuard) Release(ctx context.Context, k checkin.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.fakeGuard.Release(ctx, k)
}

// disconnectingLedger cancels the request and fails the first append, as a
// client that hangs up mid-request would.
type disconnectingLedger struct {
	checkin.Ledger
	cancel context.CancelFunc
	once   sync.Once
}

func (l *disconnectingLedger) Append(ctx context.Context, r *checkin.Record) error {
	failed := false
	l.once.Do(func() {
		l.cancel()
		failed = true
	})
	if failed {
		return ctx.Err()
	}
	return l.Ledger.Append(ctx, r)
}

func TestRecordCheckin_FailedAppendDoesNotBlockRetry(t *testing.T) {
	e := newEnv(t)
	guard := &ctxGuard{fakeGuard{claimed: map[checkin.Key]bool{}}}
	reqCtx, cancel := context.WithCancel(context.Background())
	ledger := &disconnectingLedger{Ledger: e.store.Checkins(), cancel: cancel}
	h := NewRecordCheckinHandler(e.store.Users(), ledger, guard, e.score, e.events, e.clock, time.UTC, DefaultRecordCheckinConfig(), nil)

	_, err := h.Handle(reqCtx, RecordCheckinCommand{UserID: "frank", Category: checkin.Intellectual})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, guard.released, 1)

	res, err := h.Handle(context.Background(), RecordCheckinCommand{UserID: "frank", Category: checkin.Intellectual})
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalPoints)

	total, err := e.store.Checkins().SumPoints(context.Background(), "frank")
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestRecordCheckin_StaleClaimFallsBackToLedger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	today := timeutil.FormatDay(timeutil.DayOf(testNow, time.UTC))
	key := checkin.Key{UserID: "gina", Day: today, Category: checkin.Physical}

	// left behind by a process that died between claim and append
	guard := &fakeGuard{claimed: map[checkin.Key]bool{key: true}}
	h := NewRecordCheckinHandler(e.store.Users(), e.store.Checkins(), guard, e.score, e.events, e.clock, time.UTC, DefaultRecordCheckinConfig(), nil)

	_, err := h.Handle(ctx, RecordCheckinCommand{UserID: "gina", Category: checkin.Physical})
	require.NoError(t, err)

	_, err = h.Handle(ctx, RecordCheckinCommand{UserID: "gina", Category: checkin.Physical})
	assert.ErrorIs(t, err, shared.ErrDuplicateCategoryToday)

	n, err := e.store.Checkins().CountBetween(ctx, "gina", timeutil.DayOf(testNow, time.UTC), timeutil.DayOf(testNow, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStreakCacheMatchesRecomputation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := user.ID("erin")

	// Day offsets relative to the start; gaps at 3 and 6.
	plan := []int{0, 1, 2, 4, 5, 7, 8, 9}
	start := testNow
	for _, off := range plan {
		e.clock.Set(start.Add(time.Duration(off) * 24 * time.Hour))
		for _, c := range []checkin.Category{checkin.Professional, checkin.Physical} {
			_, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: id, Category: c})
			require.NoError(t, err)

			u, err := e.store.Users().Get(ctx, id)
			require.NoError(t, err)
			b, err := e.score.Compute(ctx, id, timeutil.DayOf(e.clock.Now(), time.UTC))
			require.NoError(t, err)
			assert.Equal(t, b.Streak, u.CurrentStreak, "day offset %d", off)
			assert.Equal(t, b.Total, u.TotalPoints, "day offset %d", off)
		}
	}

	u, err := e.store.Users().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, u.CurrentStreak)
	assert.Equal(t, len(plan)*2*10, u.TotalPoints)
	assert.NotEmpty(t, e.events.ofType(shared.EventStreakUpdated))
}

func TestConcurrentCheckinsLeaveConsistentCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	yesterday := timeutil.AddDays(timeutil.DayOf(testNow, time.UTC), -1)

	for round := 0; round < 50; round++ {
		id := user.ID(fmt.Sprintf("racer-%d", round))
		var wg sync.WaitGroup
		for _, day := range []time.Time{yesterday, {}} {
			for _, c := range checkin.Categories {
				wg.Add(1)
				go func(day time.Time, c checkin.Category) {
					defer wg.Done()
					_, err := e.checkin.Handle(ctx, RecordCheckinCommand{UserID: id, Category: c, Date: day})
					assert.NoError(t, err)
				}(day, c)
			}
		}
		wg.Wait()

		u, err := e.store.Users().Get(ctx, id)
		require.NoError(t, err)
		b, err := e.score.Compute(ctx, id, timeutil.DayOf(testNow, time.UTC))
		require.NoError(t, err)
		require.Equal(t, 2, b.Streak)
		require.Equal(t, 80, b.Total)
		require.Equal(t, b.Streak, u.CurrentStreak, "round %d", round)
		require.Equal(t, b.Total, u.TotalPoints, "round %d", round)
	}
}

func TestSaveStatsKeepsNewestVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	users := e.store.Users()
	_, err := users.GetOrCreate(ctx, "hana", testNow)
	require.NoError(t, err)

	older, err := users.NextStatsVersion(ctx)
	require.NoError(t, err)
	newer, err := users.NextStatsVersion(ctx)
	require.NoError(t, err)
	require.Greater(t, newer, older)

	saved, err := users.SaveStats(ctx, "hana", user.Stats{TotalPoints: 20, CurrentStreak: 1, RefreshedAt: testNow, Version: newer})
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = users.SaveStats(ctx, "hana", user.Stats{TotalPoints: 10, CurrentStreak: 1, RefreshedAt: testNow, Version: older})
	require.NoError(t, err)
	assert.False(t, saved)

	u, err := users.Get(ctx, "hana")
	require.NoError(t, err)
	assert.Equal(t, 20, u.TotalPoints)
	assert.Equal(t, newer, u.StatsVersion)
}
