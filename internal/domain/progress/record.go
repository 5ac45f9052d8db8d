// Package progress tracks a participant's work on curriculum items and the
// evidence review workflow around it.
//
// The review state is a sealed sum type: each variant carries only the
// fields that are meaningful for it, so a completion time cannot exist
// without the record being done and a review note cannot exist without a
// rejection.
package progress

import (
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS VARIANTS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the wire name of a State variant.
type Status string

const (
	StatusNotStarted    Status = "not_started"
	StatusPendingReview Status = "pending_review"
	StatusDone          Status = "done"
	StatusRejected      Status = "rejected"
)

// State is implemented only by the variants in this file.
type State interface {
	Status() Status
	sealed()
}

// NotStarted is the implicit state of an item without a record.
type NotStarted struct{}

// Pending awaits a reviewer.
type Pending struct {
	SubmittedAt time.Time
}

// Done is terminal.
type Done struct {
	CompletedAt time.Time
	ReviewerID  string
}

// Rejected may be resubmitted or re-approved.
type Rejected struct {
	Note       string
	RejectedAt time.Time
	ReviewerID string
}

func (NotStarted) Status() Status { return StatusNotStarted }
func (Pending) Status() Status    { return StatusPendingReview }
func (Done) Status() Status       { return StatusDone }
func (Rejected) Status() Status   { return StatusRejected }

func (NotStarted) sealed() {}
func (Pending) sealed()    {}
func (Done) sealed()       {}
func (Rejected) sealed()   {}

// Decision is a reviewer's verdict.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// ParseDecision accepts approve/approved/done and reject/rejected.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "done":
		return Approve, nil
	case "reject", "rejected":
		return Reject, nil
	default:
		return "", shared.ValidationError("progress", "ParseDecision", "decision", "must be approve or reject")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

type RecordID string

// Evidence is the participant's claim of completion. Files live in external
// storage; only a reference is kept here.
type Evidence struct {
	Note string
	Ref  string
}

// Record is the single progress record of a (user, item) pair.
type Record struct {
	ID     RecordID
	UserID user.ID
	ItemID curriculum.ItemID
	StepID curriculum.StepID

	Evidence Evidence
	State    State

	// Submissions counts how many times evidence was sent.
	Submissions int
	SubmittedAt time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status is shorthand for r.State.Status().
func (r *Record) Status() Status {
	if r == nil || r.State == nil {
		return StatusNotStarted
	}
	return r.State.Status()
}

// IsDone reports whether the item counts as completed.
func (r *Record) IsDone() bool { return r.Status() == StatusDone }

// CompletedAt is set only for done records.
func (r *Record) CompletedAt() (time.Time, bool) {
	if d, ok := r.State.(Done); ok {
		return d.CompletedAt, true
	}
	return time.Time{}, false
}

// ReviewNote is set only for rejected records.
func (r *Record) ReviewNote() (string, bool) {
	if rej, ok := r.State.(Rejected); ok {
		return rej.Note, true
	}
	return "", false
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// NewSubmission creates the first record for a (user, item) pair.
func NewSubmission(id RecordID, userID user.ID, item curriculum.Item, ev Evidence, at time.Time) (*Record, error) {
	if id == "" {
		return nil, shared.ValidationError("progress", "SubmitEvidence", "id", "required")
	}
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if err := validateEvidence(ev); err != nil {
		return nil, err
	}
	return &Record{
		ID:          id,
		UserID:      userID,
		ItemID:      item.ID,
		StepID:      item.StepID,
		Evidence:    ev,
		State:       Pending{SubmittedAt: at},
		Submissions: 1,
		SubmittedAt: at,
		Version:     1,
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

// Resubmit sends new evidence for an existing record.
//
// Rejected records go back to pending review. A record that is still
// pending keeps its state and has its evidence replaced. Done records are
// final and fail with ErrAlreadyCompleted.
func (r *Record) Resubmit(ev Evidence, at time.Time) error {
	if err := validateEvidence(ev); err != nil {
		return err
	}
	switch r.State.(type) {
	case Done:
		return shared.ErrAlreadyCompleted
	case Rejected, Pending, NotStarted, nil:
		r.State = Pending{SubmittedAt: at}
	}
	r.Evidence = ev
	r.Submissions++
	r.SubmittedAt = at
	r.UpdatedAt = at
	return nil
}

// Review applies a reviewer's decision.
//
// Allowed: pending → done, pending → rejected, rejected → done. Anything
// else fails with ErrInvalidTransition.
func (r *Record) Review(d Decision, note, reviewerID string, at time.Time) error {
	switch r.State.(type) {
	case Pending:
		switch d {
		case Approve:
			r.State = Done{CompletedAt: at, ReviewerID: reviewerID}
		case Reject:
			r.State = Rejected{Note: strings.TrimSpace(note), RejectedAt: at, ReviewerID: reviewerID}
		default:
			return shared.ValidationError("progress", "Review", "decision", "must be approve or reject")
		}
	case Rejected:
		if d != Approve {
			return shared.ErrInvalidTransition
		}
		r.State = Done{CompletedAt: at, ReviewerID: reviewerID}
	default:
		return shared.ErrInvalidTransition
	}
	r.UpdatedAt = at
	return nil
}

func validateEvidence(ev Evidence) error {
	if len(ev.Note) > 4000 {
		return shared.ValidationError("progress", "SubmitEvidence", "note", "too long")
	}
	if len(ev.Ref) > 1024 {
		return shared.ValidationError("progress", "SubmitEvidence", "evidence_ref", "too long")
	}
	return nil
}

// StateFromColumns rebuilds a variant from its flattened storage form.
func StateFromColumns(status Status, submittedAt time.Time, completedAt *time.Time, note, reviewerID string, reviewedAt *time.Time) (State, error) {
	switch status {
	case StatusNotStarted:
		return NotStarted{}, nil
	case StatusPendingReview:
		return Pending{SubmittedAt: submittedAt}, nil
	case StatusDone:
		if completedAt == nil {
			return nil, shared.NewDomainError("progress", "Load", shared.ErrInvariant, "done record without completion time")
		}
		return Done{CompletedAt: *completedAt, ReviewerID: reviewerID}, nil
	case StatusRejected:
		var at time.Time
		if reviewedAt != nil {
			at = *reviewedAt
		}
		return Rejected{Note: note, RejectedAt: at, ReviewerID: reviewerID}, nil
	default:
		return nil, shared.NewDomainError("progress", "Load", shared.ErrInvariant, "unknown status "+string(status))
	}
}

// Columns flattens a state for storage: completion time, review note,
// reviewer and review time.
func Columns(s State) (completedAt *time.Time, note string, reviewerID string, reviewedAt *time.Time) {
	switch v := s.(type) {
	case Done:
		t := v.CompletedAt
		return &t, "", v.ReviewerID, &t
	case Rejected:
		t := v.RejectedAt
		return nil, v.Note, v.ReviewerID, &t
	}
	return nil, "", "", nil
}
