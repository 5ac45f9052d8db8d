package command

import (
	"context"
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/retry"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION ADMINISTRATION
// Scheduling, completing and cancelling exam sessions.
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleSessionCommand creates a session.
type ScheduleSessionCommand struct {
	StepID          curriculum.StepID
	Type            exam.Type
	Date            time.Time
	Location        string
	MaxParticipants int
}

// Validate checks the fields that do not need the clock or the catalog.
func (c ScheduleSessionCommand) Validate() error {
	if strings.TrimSpace(string(c.StepID)) == "" {
		return shared.ValidationError("exam", "ScheduleSession", "step_id", "required")
	}
	if !c.Type.IsValid() {
		return shared.ValidationError("exam", "ScheduleSession", "type", "must be degree or belt")
	}
	if c.MaxParticipants <= 0 {
		return shared.ValidationError("exam", "ScheduleSession", "max_participants", "must be > 0")
	}
	return nil
}

// SessionStatusCommand completes or cancels a session.
type SessionStatusCommand struct {
	SessionID exam.SessionID
}

// SessionAdminHandler handles the administrative session commands.
type SessionAdminHandler struct {
	catalog        curriculum.Index
	exams          exam.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	retrier        *retry.Retrier
	newID          IDFunc
	log            *logger.Logger
}

// NewSessionAdminHandler creates a new SessionAdminHandler.
func NewSessionAdminHandler(
	catalog curriculum.Index,
	exams exam.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	retryCfg RetryConfig,
	log *logger.Logger,
) *SessionAdminHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SessionAdminHandler{
		catalog:        catalog,
		exams:          exams,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retryCfg.retrier(),
		newID:          NewID,
		log:            log.With(logger.Component("sessions")),
	}
}

// Schedule creates a session for an existing step.
func (h *SessionAdminHandler) Schedule(ctx context.Context, cmd ScheduleSessionCommand) (*query.SessionDTO, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.catalog.Step(ctx, cmd.StepID); err != nil {
		return nil, err
	}

	sess, err := exam.NewSession(exam.NewSessionParams{
		ID:              exam.SessionID(h.newID()),
		StepID:          cmd.StepID,
		Type:            cmd.Type,
		Date:            cmd.Date,
		Location:        cmd.Location,
		MaxParticipants: cmd.MaxParticipants,
		Now:             h.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := h.exams.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	h.log.Info("exam session scheduled",
		logger.ExamID(string(sess.ID)),
		logger.StepID(string(sess.StepID)),
		logger.String("type", string(sess.Type)),
		logger.Int("seats", sess.MaxParticipants),
	)
	dto := query.NewSessionDTO(sess)
	return &dto, nil
}

// Complete marks a scheduled session as completed.
func (h *SessionAdminHandler) Complete(ctx context.Context, cmd SessionStatusCommand) (*query.SessionDTO, error) {
	return h.transition(ctx, cmd, (*exam.Session).Complete)
}

// Cancel aborts a scheduled session. Registrations keep their status;
// outcomes can no longer be recorded for it.
func (h *SessionAdminHandler) Cancel(ctx context.Context, cmd SessionStatusCommand) (*query.SessionDTO, error) {
	return h.transition(ctx, cmd, (*exam.Session).Cancel)
}

func (h *SessionAdminHandler) transition(ctx context.Context, cmd SessionStatusCommand, apply func(*exam.Session, time.Time) error) (*query.SessionDTO, error) {
	if cmd.SessionID == "" {
		return nil, shared.ValidationError("exam", "UpdateStatus", "session_id", "required")
	}

	var sess *exam.Session
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		s, err := h.exams.GetSession(ctx, cmd.SessionID)
		if err != nil {
			return retry.Permanent(err)
		}
		expected := s.Version
		if err := apply(s, h.clock.Now()); err != nil {
			return retry.Permanent(err)
		}
		if err := h.exams.UpdateSessionStatus(ctx, s, expected); err != nil {
			if isCASConflict(err) {
				return err
			}
			return retry.Permanent(err)
		}
		sess = s
		return nil
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return nil, shared.ErrConcurrentModification
		}
		return nil, err
	}

	h.log.Info("exam session closed", logger.ExamID(string(sess.ID)), logger.String("status", string(sess.Status)))
	publish(h.eventPublisher, shared.NewSessionClosedEvent(string(sess.ID), string(sess.Status), h.clock.Now()))
	dto := query.NewSessionDTO(sess)
	return &dto, nil
}
