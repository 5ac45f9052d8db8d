package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

var (
	t0   = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	item = curriculum.Item{ID: "go-101", StepID: "white", Type: curriculum.TypeCourse, Required: true, Points: 50}
)

func newPending(t *testing.T) *Record {
	t.Helper()
	r, err := NewSubmission("r1", "alice", item, Evidence{Note: "finished"}, t0)
	require.NoError(t, err)
	return r
}

func TestSubmissionStartsPending(t *testing.T) {
	r := newPending(t)
	assert.Equal(t, StatusPendingReview, r.Status())
	_, done := r.CompletedAt()
	assert.False(t, done)
	assert.Equal(t, curriculum.StepID("white"), r.StepID)
}

func TestApproveSetsCompletedAt(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Approve, "", "bob", t0.Add(time.Hour)))

	assert.True(t, r.IsDone())
	at, ok := r.CompletedAt()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), at)
	_, hasNote := r.ReviewNote()
	assert.False(t, hasNote)
}

func TestRejectKeepsNote(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Reject, " missing certificate ", "bob", t0))

	note, ok := r.ReviewNote()
	assert.True(t, ok)
	assert.Equal(t, "missing certificate", note)
	_, done := r.CompletedAt()
	assert.False(t, done)
}

func TestResubmitAfterRejection(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Reject, "no", "bob", t0))
	require.NoError(t, r.Resubmit(Evidence{Note: "second try"}, t0.Add(time.Hour)))

	assert.Equal(t, StatusPendingReview, r.Status())
	assert.Equal(t, 2, r.Submissions)
	assert.Equal(t, "second try", r.Evidence.Note)
}

func TestReapprovalFromRejected(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Reject, "no", "bob", t0))
	require.NoError(t, r.Review(Approve, "", "carol", t0.Add(time.Minute)))
	assert.True(t, r.IsDone())
}

func TestDoneIsTerminal(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Approve, "", "bob", t0))

	err := r.Resubmit(Evidence{Note: "again"}, t0)
	assert.ErrorIs(t, err, shared.ErrAlreadyCompleted)
	assert.ErrorIs(t, err, shared.ErrConflict)

	assert.ErrorIs(t, r.Review(Approve, "", "bob", t0), shared.ErrInvalidTransition)
	assert.ErrorIs(t, r.Review(Reject, "", "bob", t0), shared.ErrInvalidTransition)
	assert.True(t, r.IsDone())
}

func TestRejectingRejectedIsInvalid(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.Review(Reject, "no", "bob", t0))
	assert.ErrorIs(t, r.Review(Reject, "still no", "bob", t0), shared.ErrInvalidTransition)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Approved")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)

	_, err = ParseDecision("maybe")
	assert.True(t, shared.IsValidation(err))
}

func TestStateColumnsRoundTrip(t *testing.T) {
	states := []State{
		Pending{SubmittedAt: t0},
		Done{CompletedAt: t0, ReviewerID: "bob"},
		Rejected{Note: "why", RejectedAt: t0, ReviewerID: "bob"},
	}
	for _, s := range states {
		completed, note, reviewer, reviewed := Columns(s)
		back, err := StateFromColumns(s.Status(), t0, completed, note, reviewer, reviewed)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}

	_, err := StateFromColumns(StatusDone, t0, nil, "", "", nil)
	assert.ErrorIs(t, err, shared.ErrInvariant)
}

func TestSummarize(t *testing.T) {
	items := []curriculum.Item{
		{ID: "a", StepID: "s", Type: curriculum.TypeCourse, Required: true, Points: 10},
		{ID: "b", StepID: "s", Type: curriculum.TypeCert, Required: true, Points: 20},
		{ID: "c", StepID: "s", Type: curriculum.TypeBook, Points: 5},
		{ID: "d", StepID: "s", Type: curriculum.TypeCert, Points: 30},
	}
	done := func(id curriculum.ItemID) *Record {
		return &Record{ItemID: id, State: Done{CompletedAt: t0}}
	}
	records := []*Record{
		done("a"),
		done("d"),
		{ItemID: "b", State: Pending{SubmittedAt: t0}},
		done("other-step"),
	}

	s := Summarize("s", items, records)
	assert.Equal(t, 4, s.TotalItems)
	assert.Equal(t, 2, s.DoneItems)
	assert.Equal(t, 2, s.RequiredItems)
	assert.Equal(t, 1, s.RequiredDone)
	assert.Equal(t, 1, s.CertsDone)
	assert.Equal(t, 40, s.DonePoints)
	assert.Equal(t, 1, s.PendingItems)
	assert.InDelta(t, 0.5, s.CompletionRate(), 1e-9)
	assert.False(t, s.RequiredComplete())

	assert.Zero(t, Summarize("empty", nil, nil).CompletionRate())
}
