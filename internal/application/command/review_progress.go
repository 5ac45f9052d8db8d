package command

import (
	"context"
	"fmt"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/retry"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW PROGRESS COMMAND
// A reviewer approves or rejects submitted evidence.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewProgressCommand is a reviewer decision on one record.
type ReviewProgressCommand struct {
	RecordID   progress.RecordID
	Decision   progress.Decision
	Note       string
	ReviewerID string
}

// Validate validates the command.
func (c ReviewProgressCommand) Validate() error {
	if c.RecordID == "" {
		return shared.ValidationError("progress", "Review", "record_id", "required")
	}
	if c.Decision != progress.Approve && c.Decision != progress.Reject {
		return shared.ValidationError("progress", "Review", "decision", "must be approve or reject")
	}
	if len(c.Note) > 2000 {
		return shared.ValidationError("progress", "Review", "note", "too long")
	}
	return nil
}

// ReviewProgressHandler handles ReviewProgressCommand.
type ReviewProgressHandler struct {
	users          user.Repository
	catalog        curriculum.Index
	progressRepo   progress.Repository
	score          *query.ScoreCalculator
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	retrier        *retry.Retrier
	log            *logger.Logger
}

// NewReviewProgressHandler creates a new ReviewProgressHandler.
func NewReviewProgressHandler(
	users user.Repository,
	catalog curriculum.Index,
	progressRepo progress.Repository,
	score *query.ScoreCalculator,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	retryCfg RetryConfig,
	log *logger.Logger,
) *ReviewProgressHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReviewProgressHandler{
		users:          users,
		catalog:        catalog,
		progressRepo:   progressRepo,
		score:          score,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retryCfg.retrier(),
		log:            log.With(logger.Component("review")),
	}
}

// Handle executes the command. A concurrent review is reloaded and the
// decision re-applied against the new state, which usually fails with
// ErrInvalidTransition.
func (h *ReviewProgressHandler) Handle(ctx context.Context, cmd ReviewProgressCommand) (*ProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock.Now()

	var rec *progress.Record
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := h.progressRepo.Get(ctx, cmd.RecordID)
		if err != nil {
			return retry.Permanent(err)
		}
		expected := r.Version
		if err := r.Review(cmd.Decision, cmd.Note, cmd.ReviewerID, now); err != nil {
			return retry.Permanent(err)
		}
		if err := h.progressRepo.Update(ctx, r, expected); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	pts := 0
	if item, err := h.catalog.Item(ctx, rec.ItemID); err == nil {
		pts = item.Points
	}

	h.log.Info("progress reviewed",
		logger.UserID(string(rec.UserID)),
		logger.ItemID(string(rec.ItemID)),
		logger.String("status", string(rec.Status())),
		logger.String("reviewer_id", cmd.ReviewerID),
	)
	publish(h.eventPublisher, shared.NewProgressReviewedEvent(
		string(rec.ID), string(rec.UserID), string(rec.ItemID), string(rec.Status()), cmd.ReviewerID, pts, now,
	))

	if rec.IsDone() {
		if err := h.refresh(ctx, rec.UserID); err != nil {
			h.log.Error("score refresh after review failed", logger.UserID(string(rec.UserID)), logger.Err(err))
		}
	}
	return NewProgressResult(rec), nil
}

func (h *ReviewProgressHandler) refresh(ctx context.Context, id user.ID) error {
	u, err := h.users.GetOrCreate(ctx, id, h.clock.Now())
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	_, err = h.score.Refresh(ctx, u)
	return err
}
