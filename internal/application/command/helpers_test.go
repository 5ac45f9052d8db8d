package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/points"
	"github.com/beltline/progression-engine/internal/domain/progress"
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
    required_certs: 1
    items:
      - {id: go-tour, title: Tour of Go, type: course, required: true, points: 40}
      - {id: gcp-ace, title: Associate Cloud Engineer, type: cert, required: true, points: 100}
      - {id: pragmatic, title: The Pragmatic Programmer, type: book, points: 20}
      - {id: testing, title: Testing in Go, type: course, points: 30}
  - id: blue
    belt: blue
    title: Practitioner
    items:
      - {id: k8s, title: Kubernetes, type: course, required: true, points: 60}
`

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type env struct {
	store   *memory.Store
	clock   *timeutil.FixedClock
	catalog *catalog.Static
	events  *recorder
	score   *query.ScoreCalculator
	facts   *query.FactsLoader

	checkin  *RecordCheckinHandler
	submit   *SubmitEvidenceHandler
	review   *ReviewProgressHandler
	register *RegisterExamHandler
	cancel   *CancelRegistrationHandler
	outcome  *RecordOutcomeHandler
	sessions *SessionAdminHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	store := memory.New()
	clock := timeutil.NewFixedClock(testNow)
	events := &recorder{}
	retryCfg := RetryConfig{MaxAttempts: 10, InitialDelay: time.Millisecond}

	score := query.NewScoreCalculator(query.ScoreCalculatorDeps{
		Users:     store.Users(),
		Catalog:   cat,
		Progress:  store.Progress(),
		Ledger:    store.Checkins(),
		Rules:     points.DefaultRules(),
		Publisher: events,
		Clock:     clock,
	})
	rules := eligibility.DefaultRules()
	facts := query.NewFactsLoader(store.Users(), cat, store.Progress(), store.Checkins(), rules.RecentWindowDays, clock, time.UTC)
	engine := eligibility.NewEngine(rules)

	return &env{
		store:   store,
		clock:   clock,
		catalog: cat,
		events:  events,
		score:   score,
		facts:   facts,

		checkin:  NewRecordCheckinHandler(store.Users(), store.Checkins(), nil, score, events, clock, time.UTC, DefaultRecordCheckinConfig(), nil),
		submit:   NewSubmitEvidenceHandler(store.Users(), cat, store.Progress(), events, clock, retryCfg, nil),
		review:   NewReviewProgressHandler(store.Users(), cat, store.Progress(), score, events, clock, retryCfg, nil),
		register: NewRegisterExamHandler(store.Users(), cat, store.Exams(), facts, engine, events, clock, retryCfg, nil),
		cancel:   NewCancelRegistrationHandler(store.Exams(), events, clock, nil),
		outcome:  NewRecordOutcomeHandler(store.Users(), store.Exams(), events, clock, retryCfg, nil),
		sessions: NewSessionAdminHandler(cat, store.Exams(), events, clock, retryCfg, nil),
	}
}

// complete submits and approves an item.
func (e *env) complete(t *testing.T, id user.ID, item string) *ProgressResult {
	t.Helper()
	ctx := context.Background()
	sub, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: id, ItemID: curriculum.ItemID(item), Note: "done"})
	require.NoError(t, err)
	res, err := e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Approve, ReviewerID: "mentor"})
	require.NoError(t, err)
	return res
}

// eligibleForDegree gives a white/1 user 1 of 4 items and 8 recent
// check-ins.
func (e *env) eligibleForDegree(t *testing.T, id user.ID) {
	t.Helper()
	e.complete(t, id, "go-tour")
	yesterday := timeutil.AddDays(timeutil.DayOf(testNow, time.UTC), -1)
	for _, day := range []time.Time{yesterday, {}} {
		for _, c := range checkin.Categories {
			_, err := e.checkin.Handle(context.Background(), RecordCheckinCommand{UserID: id, Category: c, Date: day})
			require.NoError(t, err)
		}
	}
}

func (e *env) schedule(t *testing.T, typ exam.Type, seats int) exam.SessionID {
	t.Helper()
	s, err := e.sessions.Schedule(context.Background(), ScheduleSessionCommand{
		StepID:          "white",
		Type:            typ,
		Date:            testNow.Add(72 * time.Hour),
		Location:        "HQ",
		MaxParticipants: seats,
	})
	require.NoError(t, err)
	return s.ID
}
