package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

func TestSubmitAndReviewFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "alice", ItemID: "gcp-ace", EvidenceRef: "s3://certs/1.pdf"})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusPendingReview, sub.Status)
	assert.Equal(t, 1, sub.Submissions)

	rej, err := e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Reject, Note: "expired", ReviewerID: "mentor"})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusRejected, rej.Status)
	assert.Equal(t, "expired", rej.ReviewNote)
	assert.Nil(t, rej.CompletedAt)

	e.clock.Advance(time.Hour)
	again, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "alice", ItemID: "gcp-ace", EvidenceRef: "s3://certs/2.pdf"})
	require.NoError(t, err)
	assert.Equal(t, sub.RecordID, again.RecordID)
	assert.Equal(t, progress.StatusPendingReview, again.Status)
	assert.Equal(t, 2, again.Submissions)
	assert.Empty(t, again.ReviewNote)

	done, err := e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Approve, ReviewerID: "mentor"})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusDone, done.Status)
	require.NotNil(t, done.CompletedAt)

	u, err := e.store.Users().Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, u.TotalPoints)

	_, err = e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "alice", ItemID: "gcp-ace"})
	assert.ErrorIs(t, err, shared.ErrAlreadyCompleted)

	_, err = e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Reject, ReviewerID: "mentor"})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	submitted := e.events.ofType(shared.EventEvidenceSubmitted)
	require.Len(t, submitted, 2)
	assert.True(t, submitted[1].(shared.EvidenceSubmittedEvent).Resubmit)
	assert.Len(t, e.events.ofType(shared.EventProgressReviewed), 2)
}

func TestRejectedCanBeReapproved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "bob", ItemID: "pragmatic"})
	require.NoError(t, err)
	_, err = e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Reject, ReviewerID: "m1"})
	require.NoError(t, err)

	done, err := e.review.Handle(ctx, ReviewProgressCommand{RecordID: sub.RecordID, Decision: progress.Approve, ReviewerID: "m2"})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusDone, done.Status)
}

func TestResubmitWhilePendingReplacesEvidence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "carol", ItemID: "testing", Note: "v1"})
	require.NoError(t, err)
	second, err := e.submit.Handle(ctx, SubmitEvidenceCommand{UserID: "carol", ItemID: "testing", Note: "v2"})
	require.NoError(t, err)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, progress.StatusPendingReview, second.Status)

	rec, err := e.store.Progress().Get(ctx, first.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "v2", rec.Evidence.Note)
}

func TestSubmitEvidence_UnknownItem(t *testing.T) {
	e := newEnv(t)
	_, err := e.submit.Handle(context.Background(), SubmitEvidenceCommand{UserID: "dave", ItemID: "nope"})
	assert.ErrorIs(t, err, shared.ErrItemNotFound)

	_, err = e.submit.Handle(context.Background(), SubmitEvidenceCommand{UserID: "", ItemID: "go-tour"})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestReview_UnknownRecord(t *testing.T) {
	e := newEnv(t)
	_, err := e.review.Handle(context.Background(), ReviewProgressCommand{RecordID: "missing", Decision: progress.Approve})
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
}
