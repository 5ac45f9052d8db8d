package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/application/command"
	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/internal/infrastructure/catalog"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

const testCatalog = `
steps:
  - id: white
    belt: white
    title: Foundations
    items:
      - {id: go-tour, title: Tour of Go, type: course, required: true, points: 40}
`

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCloseSessionsJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := timeutil.NewFixedClock(now)
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	admin := command.NewSessionAdminHandler(cat, store.Exams(), shared.NopPublisher{}, clock, command.DefaultRetryConfig(), nil)

	for i, offset := range []time.Duration{2 * time.Hour, 30 * time.Hour, 72 * time.Hour} {
		s, err := exam.NewSession(exam.NewSessionParams{
			ID:              exam.SessionID(fmt.Sprintf("s%d", i)),
			StepID:          "white",
			Type:            exam.TypeDegree,
			Date:            now.Add(offset),
			MaxParticipants: 5,
			Now:             now,
		})
		require.NoError(t, err)
		require.NoError(t, store.Exams().CreateSession(ctx, s))
	}

	clock.Advance(48 * time.Hour)
	job := NewCloseSessionsJob(store.Exams(), admin, clock, 20*time.Hour, nil)
	require.NoError(t, job.Run(ctx))

	for id, want := range map[exam.SessionID]exam.SessionStatus{
		"s0": exam.SessionCompleted,
		"s1": exam.SessionScheduled,
		"s2": exam.SessionScheduled,
	} {
		s, err := store.Exams().GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, s.Status, id)
	}

	// a second run is a no-op
	require.NoError(t, job.Run(ctx))
}

type failingCompleter struct{ calls int }

func (f *failingCompleter) Complete(context.Context, command.SessionStatusCommand) (*query.SessionDTO, error) {
	f.calls++
	if f.calls == 1 {
		return nil, shared.ErrInvalidSessionState
	}
	return nil, errors.New("db down")
}

type staticDue []*exam.Session

func (s staticDue) ListDue(context.Context, time.Time, int) ([]*exam.Session, error) { return s, nil }

func TestCloseSessionsJob_Errors(t *testing.T) {
	due := staticDue{{ID: "a"}, {ID: "b"}}
	c := &failingCompleter{}
	err := NewCloseSessionsJob(due, c, timeutil.NewFixedClock(now), 0, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 2, c.calls)
}

func TestReconcileScoresJob_BreaksStaleStreak(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := timeutil.NewFixedClock(now)
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	calc := query.NewScoreCalculator(query.ScoreCalculatorDeps{
		Users:    store.Users(),
		Catalog:  cat,
		Progress: store.Progress(),
		Ledger:   store.Checkins(),
		Clock:    clock,
	})

	today := timeutil.DayOf(now, time.UTC)
	for i, id := range []user.ID{"alice", "bob"} {
		for d := 0; d < 3; d++ {
			rec, err := checkin.NewRecord(checkin.NewRecordParams{
				ID:        checkin.RecordID(fmt.Sprintf("%s-%d", id, d)),
				UserID:    id,
				Day:       timeutil.AddDays(today, -d-i),
				Category:  checkin.Physical,
				Points:    10,
				CreatedAt: now,
			})
			require.NoError(t, err)
			require.NoError(t, store.Checkins().Append(ctx, rec))
		}
	}

	job := NewReconcileScoresJob(store.Checkins(), store.Users(), calc, clock, time.UTC, 30, 2, nil)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, job.LastRefreshed())

	alice, err := store.Users().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, alice.CurrentStreak)
	assert.Equal(t, 30, alice.TotalPoints)

	// two idle days later the cached streak must drop to zero
	clock.Advance(48 * time.Hour)
	require.NoError(t, job.Run(ctx))
	alice, err = store.Users().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, alice.CurrentStreak)
	assert.Equal(t, 30, alice.TotalPoints)
}

type rebuildSpy struct {
	totals map[user.ID]int
	at     time.Time
}

func (r *rebuildSpy) Rebuild(_ context.Context, totals map[user.ID]int, at time.Time) error {
	r.totals, r.at = totals, at
	return nil
}

func TestRebuildRankingJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for id, pts := range map[user.ID]int{"a": 120, "b": 40, "c": 0} {
		u, err := user.New(id, now)
		require.NoError(t, err)
		u.TotalPoints = pts
		store.Users().Put(u)
	}

	spy := &rebuildSpy{}
	job := NewRebuildRankingJob(store.Users(), spy, timeutil.NewFixedClock(now), 0, nil)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, map[user.ID]int{"a": 120, "b": 40, "c": 0}, spy.totals)
	assert.Equal(t, now, spy.at)
}
