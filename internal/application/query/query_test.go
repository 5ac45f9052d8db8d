package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/points"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/internal/infrastructure/catalog"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

var testNow = time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

// twelveItems builds a white step with 12 items: 10 required courses and 2
// required certifications.
func twelveItems(t *testing.T) *catalog.Static {
	t.Helper()
	var b strings.Builder
	b.WriteString("steps:\n  - id: white\n    belt: white\n    title: Foundations\n    required_certs: 2\n    items:\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "      - {id: c%d, title: Course %d, type: course, required: true, points: 10}\n", i, i)
	}
	b.WriteString("      - {id: cert1, title: Cert 1, type: cert, required: true, points: 50}\n")
	b.WriteString("      - {id: cert2, title: Cert 2, type: cert, required: true, points: 50}\n")
	cat, err := catalog.Parse([]byte(b.String()))
	require.NoError(t, err)
	return cat
}

type fixture struct {
	store *memory.Store
	cat   *catalog.Static
	clock *timeutil.FixedClock
	facts *FactsLoader
	score *ScoreCalculator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	cat := twelveItems(t)
	clock := timeutil.NewFixedClock(testNow)
	return &fixture{
		store: store,
		cat:   cat,
		clock: clock,
		facts: NewFactsLoader(store.Users(), cat, store.Progress(), store.Checkins(), 14, clock, time.UTC),
		score: NewScoreCalculator(ScoreCalculatorDeps{
			Users:    store.Users(),
			Catalog:  cat,
			Progress: store.Progress(),
			Ledger:   store.Checkins(),
			Rules:    points.DefaultRules(),
			Clock:    clock,
		}),
	}
}

func (f *fixture) done(t *testing.T, id user.ID, items ...string) {
	t.Helper()
	ctx := context.Background()
	for _, itemID := range items {
		item, err := f.cat.Item(ctx, curriculum.ItemID(itemID))
		require.NoError(t, err)
		rec, err := progress.NewSubmission(progress.RecordID(string(id)+"-"+itemID), id, *item, progress.Evidence{}, testNow)
		require.NoError(t, err)
		require.NoError(t, rec.Review(progress.Approve, "", "mentor", testNow))
		require.NoError(t, f.store.Progress().Create(ctx, rec))
	}
}

// checkins appends one record per day for the last n days, ending today.
func (f *fixture) checkins(t *testing.T, id user.ID, n int, c checkin.Category) {
	t.Helper()
	today := timeutil.DayOf(testNow, time.UTC)
	for i := 0; i < n; i++ {
		day := timeutil.AddDays(today, -i)
		rec, err := checkin.NewRecord(checkin.NewRecordParams{
			ID:       checkin.RecordID(fmt.Sprintf("%s-%s-%s", id, c, timeutil.FormatDay(day))),
			UserID:   id,
			Day:      day,
			Category: c,
			Points:   10,
		})
		require.NoError(t, err)
		require.NoError(t, f.store.Checkins().Append(context.Background(), rec))
	}
}

func TestEligibility_ScenarioA(t *testing.T) {
	f := newFixture(t)
	f.done(t, "alice", "c1", "c2", "c3")
	f.checkins(t, "alice", 8, checkin.Physical)

	h := NewGetEligibilityHandler(f.facts, eligibility.NewEngine(eligibility.DefaultRules()))
	res, err := h.Handle(context.Background(), GetEligibilityQuery{UserID: "alice", StepID: "white", ExamType: exam.TypeDegree})
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, "2026-05-20", res.AsOf)
	for _, r := range res.Requirements {
		assert.True(t, r.Satisfied, r.Label)
	}
}

func TestEligibility_ScenarioB(t *testing.T) {
	f := newFixture(t)
	f.done(t, "bob", "c1", "c2")
	f.checkins(t, "bob", 14, checkin.Physical)
	f.checkins(t, "bob", 14, checkin.Emotional)

	h := NewGetEligibilityHandler(f.facts, eligibility.NewEngine(eligibility.DefaultRules()))
	res, err := h.Handle(context.Background(), GetEligibilityQuery{UserID: "bob", StepID: "white", ExamType: exam.TypeDegree})
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	for _, r := range res.Requirements {
		assert.Equal(t, r.Label != eligibility.LabelCompletionRate, r.Satisfied, r.Label)
	}
}

func TestEligibility_ScenarioC(t *testing.T) {
	f := newFixture(t)
	u, err := user.New("carol", testNow)
	require.NoError(t, err)
	u.Degree = belt.MaxDegree
	f.store.Users().Put(u)
	f.done(t, "carol", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10", "cert1")

	h := NewGetEligibilityHandler(f.facts, eligibility.NewEngine(eligibility.DefaultRules()))
	res, err := h.Handle(context.Background(), GetEligibilityQuery{UserID: "carol", StepID: "white", ExamType: exam.TypeBelt})
	require.NoError(t, err)
	assert.False(t, res.Eligible)

	unmet := map[string]string{}
	for _, r := range res.Requirements {
		if !r.Satisfied {
			unmet[r.Label] = r.Value
		}
	}
	assert.Equal(t, map[string]string{
		eligibility.LabelRequiredItems:  "11/12",
		eligibility.LabelCertifications: "1/2",
	}, unmet)
}

func TestEligibility_Validation(t *testing.T) {
	f := newFixture(t)
	h := NewGetEligibilityHandler(f.facts, eligibility.NewEngine(eligibility.DefaultRules()))
	_, err := h.Handle(context.Background(), GetEligibilityQuery{UserID: "x", StepID: "white", ExamType: "oral"})
	assert.Error(t, err)
	_, err = h.Handle(context.Background(), GetEligibilityQuery{UserID: "x", StepID: "nope", ExamType: exam.TypeBelt})
	assert.Error(t, err)
}

func TestScore_StreakBonusScenarioF(t *testing.T) {
	for _, tc := range []struct {
		days  int
		bonus int
	}{
		{days: 14, bonus: 60},
		{days: 13, bonus: 30},
		{days: 6, bonus: 0},
	} {
		t.Run(fmt.Sprintf("%d days", tc.days), func(t *testing.T) {
			f := newFixture(t)
			f.checkins(t, "dave", tc.days, checkin.Professional)
			f.done(t, "dave", "cert1")

			b, err := f.score.Compute(context.Background(), "dave", testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.days, b.Streak)
			assert.Equal(t, tc.bonus, b.StreakBonus)
			assert.Equal(t, 50, b.ItemPoints)
			assert.Equal(t, tc.days*10, b.CheckinPoints)
			assert.Equal(t, 50+tc.days*10+tc.bonus, b.Total)
		})
	}
}

type stubRanking struct {
	entries []RankEntry
	err     error
	updates map[user.ID]int
}

func (s *stubRanking) Update(_ context.Context, id user.ID, pts int, _ int64) error {
	if s.updates == nil {
		s.updates = map[user.ID]int{}
	}
	s.updates[id] = pts
	return s.err
}

func (s *stubRanking) Top(context.Context, int) ([]RankEntry, error) { return s.entries, s.err }

func TestScore_RefreshWritesCacheAndRanking(t *testing.T) {
	f := newFixture(t)
	rank := &stubRanking{}
	f.score = NewScoreCalculator(ScoreCalculatorDeps{
		Users:    f.store.Users(),
		Catalog:  f.cat,
		Progress: f.store.Progress(),
		Ledger:   f.store.Checkins(),
		Rules:    points.DefaultRules(),
		Ranking:  rank,
		Clock:    f.clock,
	})
	f.checkins(t, "erin", 7, checkin.Intellectual)

	h := NewGetScoreHandler(f.store.Users(), f.score, f.clock)
	s, err := h.Handle(context.Background(), GetScoreQuery{UserID: "erin"})
	require.NoError(t, err)
	assert.Equal(t, 70+30, s.Breakdown.Total)
	assert.Equal(t, 100, rank.updates["erin"])

	u, err := f.store.Users().Get(context.Background(), "erin")
	require.NoError(t, err)
	assert.Equal(t, 7, u.CurrentStreak)
	assert.Equal(t, 100, u.TotalPoints)

	// A broken ranking store does not fail the refresh.
	rank.err = errors.New("redis down")
	_, err = h.Handle(context.Background(), GetScoreQuery{UserID: "erin"})
	assert.NoError(t, err)
}

func TestLeaderboard_FallsBackToUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for id, pts := range map[user.ID]int{"a": 30, "b": 90, "c": 60} {
		_, err := f.store.Users().GetOrCreate(ctx, id, testNow)
		require.NoError(t, err)
		_, err = f.store.Users().SaveStats(ctx, id, user.Stats{TotalPoints: pts, RefreshedAt: testNow, Version: 1})
		require.NoError(t, err)
	}

	rank := &stubRanking{err: errors.New("redis down")}
	h := NewGetLeaderboardHandler(rank, f.store.Users(), f.clock, nil)
	res, err := h.Handle(ctx, GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, SourceUsers, res.Source)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, RankEntry{UserID: "b", Points: 90, Position: 1}, res.Entries[0])
	assert.Equal(t, RankEntry{UserID: "c", Points: 60, Position: 2}, res.Entries[1])

	rank.err = nil
	rank.entries = []RankEntry{{UserID: "z", Points: 500, Position: 1}}
	res, err = h.Handle(ctx, GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceRanking, res.Source)
	assert.Len(t, res.Entries, 1)
}

func TestListCheckins_DefaultRange(t *testing.T) {
	f := newFixture(t)
	f.checkins(t, "gus", 40, checkin.Physical)

	h := NewListCheckinsHandler(f.store.Checkins(), f.clock, time.UTC)
	out, err := h.Handle(context.Background(), ListCheckinsQuery{UserID: "gus"})
	require.NoError(t, err)
	assert.Len(t, out, 30)
	assert.Equal(t, "2026-05-20", out[0].Date)

	_, err = h.Handle(context.Background(), ListCheckinsQuery{UserID: "gus", From: testNow, To: testNow.Add(-48 * time.Hour)})
	assert.Error(t, err)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	h := NewGetUserHandler(f.store.Users())
	_, err := h.Handle(context.Background(), GetUserQuery{UserID: "ghost"})
	assert.Error(t, err)

	_, err = f.store.Users().GetOrCreate(context.Background(), "hana", testNow)
	require.NoError(t, err)
	dto, err := h.Handle(context.Background(), GetUserQuery{UserID: "hana"})
	require.NoError(t, err)
	assert.Equal(t, belt.White, dto.Belt)
	assert.Equal(t, belt.MinDegree, dto.Degree)
	assert.Empty(t, dto.Promotions)
	assert.Nil(t, dto.StatsRefreshedAt)
}
