package command

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/retry"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT EVIDENCE COMMAND
// Moves a curriculum item to pending review, creating the progress record on
// first submission.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEvidenceCommand carries the participant's claim for one item.
type SubmitEvidenceCommand struct {
	UserID      user.ID
	ItemID      curriculum.ItemID
	Note        string
	EvidenceRef string
}

// Validate validates the command.
func (c SubmitEvidenceCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if c.ItemID == "" {
		return shared.ValidationError("progress", "SubmitEvidence", "item_id", "required")
	}
	return nil
}

// ProgressResult is the public view of a progress record.
type ProgressResult struct {
	RecordID    progress.RecordID `json:"id"`
	UserID      user.ID           `json:"user_id"`
	ItemID      curriculum.ItemID `json:"item_id"`
	StepID      curriculum.StepID `json:"step_id"`
	Status      progress.Status   `json:"status"`
	Submissions int               `json:"submissions"`
	SubmittedAt time.Time         `json:"submitted_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	ReviewNote  string            `json:"review_note,omitempty"`
}

// NewProgressResult maps a record.
func NewProgressResult(r *progress.Record) *ProgressResult {
	res := &ProgressResult{
		RecordID:    r.ID,
		UserID:      r.UserID,
		ItemID:      r.ItemID,
		StepID:      r.StepID,
		Status:      r.Status(),
		Submissions: r.Submissions,
		SubmittedAt: r.SubmittedAt,
	}
	if at, ok := r.CompletedAt(); ok {
		res.CompletedAt = &at
	}
	if note, ok := r.ReviewNote(); ok {
		res.ReviewNote = note
	}
	return res
}

// SubmitEvidenceHandler handles SubmitEvidenceCommand.
type SubmitEvidenceHandler struct {
	users          user.Repository
	catalog        curriculum.Index
	progressRepo   progress.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	retrier        *retry.Retrier
	newID          IDFunc
	log            *logger.Logger
}

// NewSubmitEvidenceHandler creates a new SubmitEvidenceHandler.
func NewSubmitEvidenceHandler(
	users user.Repository,
	catalog curriculum.Index,
	progressRepo progress.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	retryCfg RetryConfig,
	log *logger.Logger,
) *SubmitEvidenceHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitEvidenceHandler{
		users:          users,
		catalog:        catalog,
		progressRepo:   progressRepo,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retryCfg.retrier(),
		newID:          NewID,
		log:            log.With(logger.Component("progress")),
	}
}

// Handle executes the command. Two concurrent first submissions race on the
// (user, item) constraint; the loser reloads and resubmits.
func (h *SubmitEvidenceHandler) Handle(ctx context.Context, cmd SubmitEvidenceCommand) (*ProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	item, err := h.catalog.Item(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()
	if _, err := h.users.GetOrCreate(ctx, cmd.UserID, now); err != nil {
		return nil, err
	}

	ev := progress.Evidence{Note: cmd.Note, Ref: cmd.EvidenceRef}
	var (
		rec      *progress.Record
		resubmit bool
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		existing, err := h.progressRepo.FindByUserItem(ctx, cmd.UserID, item.ID)
		switch {
		case err == nil:
			expected := existing.Version
			if err := existing.Resubmit(ev, now); err != nil {
				return retry.Permanent(err)
			}
			if err := h.progressRepo.Update(ctx, existing, expected); err != nil {
				return err
			}
			rec, resubmit = existing, true
			return nil
		case shared.IsNotFound(err):
			created, err := progress.NewSubmission(progress.RecordID(h.newID()), cmd.UserID, *item, ev, now)
			if err != nil {
				return retry.Permanent(err)
			}
			if err := h.progressRepo.Create(ctx, created); err != nil {
				return err
			}
			rec, resubmit = created, false
			return nil
		default:
			return retry.Permanent(err)
		}
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("evidence submitted",
		logger.UserID(string(cmd.UserID)),
		logger.ItemID(string(item.ID)),
		logger.Int("submissions", rec.Submissions),
	)
	publish(h.eventPublisher, shared.NewEvidenceSubmittedEvent(
		string(rec.ID), string(rec.UserID), string(rec.ItemID), string(rec.StepID), resubmit, now,
	))
	return NewProgressResult(rec), nil
}
