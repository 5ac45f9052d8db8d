package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

func TestRegister_ConcurrentLastSeat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	e.eligibleForDegree(t, "bob")
	sid := e.schedule(t, exam.TypeDegree, 1)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, id := range []user.ID{"alice", "bob"} {
		wg.Add(1)
		go func(i int, id user.ID) {
			defer wg.Done()
			_, errs[i] = e.register.Handle(ctx, RegisterExamCommand{UserID: id, SessionID: sid})
		}(i, id)
	}
	wg.Wait()

	ok, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrSessionFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)

	sess, err := e.store.Exams().GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentParticipants)
}

func TestRegister_CapacityNeverExceeded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const users, seats = 8, 3

	ids := make([]user.ID, users)
	for i := range ids {
		ids[i] = user.ID(fmt.Sprintf("u%d", i))
		e.eligibleForDegree(t, ids[i])
	}
	sid := e.schedule(t, exam.TypeDegree, seats)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id user.ID) {
			defer wg.Done()
			_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: id, SessionID: sid})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, shared.ErrSessionFull)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, seats, ok)
	regs, err := e.store.Exams().ListRegistrations(ctx, sid)
	require.NoError(t, err)
	active := 0
	for _, r := range regs {
		if r.IsActive() {
			active++
		}
	}
	assert.Equal(t, seats, active)
}

func TestRegister_NotEligible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sid := e.schedule(t, exam.TypeDegree, 5)

	_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "newbie", SessionID: sid})
	require.ErrorIs(t, err, shared.ErrNotEligible)
	assert.True(t, shared.IsEligibilityDenied(err))

	var denied *eligibility.DeniedError
	require.ErrorAs(t, err, &denied)
	labels := map[string]bool{}
	for _, r := range denied.Verdict.Unmet() {
		labels[r.Label] = true
	}
	assert.True(t, labels[eligibility.LabelCompletionRate])
	assert.True(t, labels[eligibility.LabelRecentCheckins])
	assert.False(t, labels[eligibility.LabelDegreeBelowMax])
}

func TestRegister_DuplicateAndClosed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	sid := e.schedule(t, exam.TypeDegree, 5)

	res, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, belt.White, res.Belt)
	assert.Equal(t, belt.Degree(1), res.Degree)
	assert.Equal(t, 4, res.SeatsLeft)

	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	assert.ErrorIs(t, err, shared.ErrAlreadyRegistered)

	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: "missing"})
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	_, err = e.sessions.Cancel(ctx, SessionStatusCommand{SessionID: sid})
	require.NoError(t, err)
	e.eligibleForDegree(t, "bob")
	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "bob", SessionID: sid})
	assert.ErrorIs(t, err, shared.ErrSessionClosed)
}

func TestCancelRegistration_FreesSeatAndReactivates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	e.eligibleForDegree(t, "bob")
	sid := e.schedule(t, exam.TypeDegree, 1)

	_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	require.NoError(t, err)
	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "bob", SessionID: sid})
	require.ErrorIs(t, err, shared.ErrSessionFull)

	require.NoError(t, e.cancel.Handle(ctx, CancelRegistrationCommand{UserID: "alice", SessionID: sid}))
	assert.ErrorIs(t, e.cancel.Handle(ctx, CancelRegistrationCommand{UserID: "alice", SessionID: sid}), shared.ErrNotRegistered)
	assert.ErrorIs(t, e.cancel.Handle(ctx, CancelRegistrationCommand{UserID: "carol", SessionID: sid}), shared.ErrNotRegistered)

	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "bob", SessionID: sid})
	require.NoError(t, err)
	require.NoError(t, e.cancel.Handle(ctx, CancelRegistrationCommand{UserID: "bob", SessionID: sid}))

	again, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, exam.RegistrationRegistered, again.Status)

	regs, err := e.store.Exams().ListRegistrations(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, regs, 2)
	assert.Len(t, e.events.ofType(shared.EventRegistrationCancelled), 2)
}

func TestCancelRegistration_AfterSessionDate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	sid := e.schedule(t, exam.TypeDegree, 2)
	_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	require.NoError(t, err)

	e.clock.Advance(96 * time.Hour)
	assert.ErrorIs(t, e.cancel.Handle(ctx, CancelRegistrationCommand{UserID: "alice", SessionID: sid}), shared.ErrNotRegistered)
}

func TestRecordOutcome_DegreePass(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	sid := e.schedule(t, exam.TypeDegree, 2)
	_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
	require.NoError(t, err)

	res, err := e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: sid, UserID: "alice", Passed: true, RecordedBy: "examiner"})
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, belt.White, res.Belt)
	assert.Equal(t, belt.Degree(2), res.Degree)

	u, err := e.store.Users().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, belt.Degree(2), u.Degree)

	promos, err := e.store.Users().ListPromotions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, belt.Rank{Belt: belt.White, Degree: 1}, promos[0].From)
	assert.Equal(t, belt.Rank{Belt: belt.White, Degree: 2}, promos[0].To)

	_, err = e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: sid, UserID: "alice", Passed: true})
	assert.ErrorIs(t, err, shared.ErrNotRegistered)
	assert.Len(t, e.events.ofType(shared.EventDegreeAwarded), 1)
}

func TestRecordOutcome_FailLeavesRank(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "bob")
	sid := e.schedule(t, exam.TypeDegree, 2)
	_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "bob", SessionID: sid})
	require.NoError(t, err)

	res, err := e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: sid, UserID: "bob", Passed: false})
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, belt.Degree(1), res.Degree)
	assert.Len(t, e.events.ofType(shared.EventExamFailed), 1)

	_, err = e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: sid, UserID: "nobody", Passed: true})
	assert.ErrorIs(t, err, shared.ErrNotRegistered)
}

func TestRecordOutcome_StaleRegistration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eligibleForDegree(t, "alice")
	first := e.schedule(t, exam.TypeDegree, 2)
	second := e.schedule(t, exam.TypeDegree, 2)

	for _, sid := range []exam.SessionID{first, second} {
		_, err := e.register.Handle(ctx, RegisterExamCommand{UserID: "alice", SessionID: sid})
		require.NoError(t, err)
	}

	_, err := e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: first, UserID: "alice", Passed: true})
	require.NoError(t, err)
	_, err = e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: second, UserID: "alice", Passed: true})
	assert.ErrorIs(t, err, shared.ErrStaleRegistration)

	u, err := e.store.Users().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, belt.Degree(2), u.Degree)
}

func TestRecordOutcome_BeltPassResetsDegree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u, err := user.New("dana", testNow)
	require.NoError(t, err)
	u.Degree = belt.MaxDegree
	e.store.Users().Put(u)
	e.complete(t, "dana", "go-tour")
	e.complete(t, "dana", "gcp-ace")

	sid := e.schedule(t, exam.TypeBelt, 1)
	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "dana", SessionID: sid})
	require.NoError(t, err)

	res, err := e.outcome.Handle(ctx, RecordOutcomeCommand{SessionID: sid, UserID: "dana", Passed: true})
	require.NoError(t, err)
	assert.Equal(t, belt.Blue, res.Belt)
	assert.Equal(t, belt.MinDegree, res.Degree)
	assert.Len(t, e.events.ofType(shared.EventBeltAwarded), 1)

	// The white step no longer matches the user's belt.
	other := e.schedule(t, exam.TypeDegree, 3)
	_, err = e.register.Handle(ctx, RegisterExamCommand{UserID: "dana", SessionID: other})
	assert.ErrorIs(t, err, shared.ErrNotEligible)
}

func TestSessionAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sessions.Schedule(ctx, ScheduleSessionCommand{StepID: "white", Type: exam.TypeDegree, Date: testNow.Add(-time.Hour), MaxParticipants: 3})
	assert.True(t, shared.IsValidation(err))
	_, err = e.sessions.Schedule(ctx, ScheduleSessionCommand{StepID: "purple", Type: exam.TypeDegree, Date: testNow.Add(time.Hour), MaxParticipants: 3})
	assert.ErrorIs(t, err, shared.ErrStepNotFound)
	_, err = e.sessions.Schedule(ctx, ScheduleSessionCommand{StepID: "white", Type: exam.TypeDegree, Date: testNow.Add(time.Hour)})
	assert.True(t, shared.IsValidation(err))

	sid := e.schedule(t, exam.TypeDegree, 3)
	dto, err := e.sessions.Complete(ctx, SessionStatusCommand{SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, exam.SessionCompleted, dto.Status)

	_, err = e.sessions.Cancel(ctx, SessionStatusCommand{SessionID: sid})
	assert.ErrorIs(t, err, shared.ErrInvalidSessionState)
	assert.Len(t, e.events.ofType(shared.EventSessionClosed), 1)
}
