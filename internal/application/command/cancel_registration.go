package command

import (
	"context"

	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL REGISTRATION COMMAND
// Frees a seat before the session takes place.
// ══════════════════════════════════════════════════════════════════════════════

// CancelRegistrationCommand releases a user's seat.
type CancelRegistrationCommand struct {
	UserID    user.ID
	SessionID exam.SessionID
}

// Validate validates the command.
func (c CancelRegistrationCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if c.SessionID == "" {
		return shared.ValidationError("exam", "CancelRegistration", "session_id", "required")
	}
	return nil
}

// CancelRegistrationHandler handles CancelRegistrationCommand.
type CancelRegistrationHandler struct {
	exams          exam.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	log            *logger.Logger
}

// NewCancelRegistrationHandler creates a new CancelRegistrationHandler.
func NewCancelRegistrationHandler(exams exam.Repository, eventPublisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *CancelRegistrationHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CancelRegistrationHandler{exams: exams, eventPublisher: eventPublisher, clock: clock, log: log.With(logger.Component("registrar"))}
}

// Handle executes the command. A registration for a session whose date has
// passed, or that is no longer scheduled, cannot be cancelled and is
// reported as shared.ErrNotRegistered.
func (h *CancelRegistrationHandler) Handle(ctx context.Context, cmd CancelRegistrationCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	now := h.clock.Now()

	sess, err := h.exams.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return err
	}
	if sess.Status != exam.SessionScheduled || sess.HasStarted(now) {
		return shared.ErrNotRegistered
	}

	reg, err := h.exams.GetRegistration(ctx, sess.ID, cmd.UserID)
	if err != nil {
		return err
	}
	if err := reg.Cancel(now); err != nil {
		return err
	}
	if err := h.exams.Cancel(ctx, reg); err != nil {
		return err
	}

	h.log.Info("exam registration cancelled", logger.UserID(string(cmd.UserID)), logger.ExamID(string(sess.ID)))
	seats := sess.CurrentParticipants - 1
	if seats < 0 {
		seats = 0
	}
	publish(h.eventPublisher, shared.NewRegistrationCancelledEvent(string(sess.ID), string(cmd.UserID), string(sess.Type), seats, now))
	return nil
}
