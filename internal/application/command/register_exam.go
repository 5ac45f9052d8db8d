package command

import (
	"context"
	"errors"
	"time"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/retry"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER FOR EXAM COMMAND
// Claims a seat after the eligibility gate passes. Seat allocation is a
// compare-and-swap on the session version, retried a bounded number of
// times.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterExamCommand asks for a seat in a session.
type RegisterExamCommand struct {
	UserID    user.ID
	SessionID exam.SessionID
}

// Validate validates the command.
func (c RegisterExamCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if c.SessionID == "" {
		return shared.ValidationError("exam", "Register", "session_id", "required")
	}
	return nil
}

// RegistrationResult describes a held seat.
type RegistrationResult struct {
	RegistrationID exam.RegistrationID     `json:"id"`
	SessionID      exam.SessionID          `json:"session_id"`
	UserID         user.ID                 `json:"user_id"`
	Status         exam.RegistrationStatus `json:"status"`
	Belt           belt.Belt               `json:"belt"`
	Degree         belt.Degree             `json:"degree"`
	RegisteredAt   time.Time               `json:"registered_at"`
	SeatsLeft      int                     `json:"seats_left"`
	Attempts       int                     `json:"-"`
}

// RegisterExamHandler handles RegisterExamCommand.
type RegisterExamHandler struct {
	users          user.Repository
	catalog        curriculum.Index
	exams          exam.Repository
	facts          *query.FactsLoader
	engine         *eligibility.Engine
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	retrier        *retry.Retrier
	newID          IDFunc
	log            *logger.Logger
}

// NewRegisterExamHandler creates a new RegisterExamHandler.
func NewRegisterExamHandler(
	users user.Repository,
	catalog curriculum.Index,
	exams exam.Repository,
	facts *query.FactsLoader,
	engine *eligibility.Engine,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	retryCfg RetryConfig,
	log *logger.Logger,
) *RegisterExamHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterExamHandler{
		users:          users,
		catalog:        catalog,
		exams:          exams,
		facts:          facts,
		engine:         engine,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retryCfg.retrier(),
		newID:          NewID,
		log:            log.With(logger.Component("registrar")),
	}
}

// Handle executes the command.
//
// Errors: eligibility.DeniedError (matches shared.ErrNotEligible) with the
// failed requirements, shared.ErrSessionFull, shared.ErrAlreadyRegistered,
// shared.ErrSessionClosed, shared.ErrSessionNotFound.
func (h *RegisterExamHandler) Handle(ctx context.Context, cmd RegisterExamCommand) (*RegistrationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var (
		result   *RegistrationResult
		attempts int
	)
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		res, err := h.attempt(ctx, cmd)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if retry.IsExhausted(err) {
			h.log.Warn("registration retries exhausted",
				logger.UserID(string(cmd.UserID)),
				logger.ExamID(string(cmd.SessionID)),
				logger.Int("attempts", attempts),
			)
			return nil, shared.WrapError("exam", "Register", shared.ErrConflict, "seat allocation contended", shared.ErrSessionFull)
		}
		return nil, err
	}
	result.Attempts = attempts
	return result, nil
}

// attempt runs one read-evaluate-swap cycle. Everything but a lost swap is
// final.
func (h *RegisterExamHandler) attempt(ctx context.Context, cmd RegisterExamCommand) (*RegistrationResult, error) {
	now := h.clock.Now()

	sess, err := h.exams.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if err := sess.CheckOpen(now); err != nil {
		return nil, retry.Permanent(err)
	}

	u, err := h.users.GetOrCreate(ctx, cmd.UserID, now)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	step, err := h.catalog.Step(ctx, sess.StepID)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	facts, err := h.facts.LoadFor(ctx, u, step)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if v := h.engine.Evaluate(sess.Type, facts.Input); !v.Eligible {
		return nil, retry.Permanent(eligibility.Deny(v))
	}

	reg, err := h.exams.GetRegistration(ctx, sess.ID, u.ID)
	switch {
	case err == nil:
		if err := reg.Reactivate(u, now); err != nil {
			return nil, retry.Permanent(err)
		}
	case errors.Is(err, shared.ErrNotRegistered):
		reg = exam.NewRegistration(exam.RegistrationID(h.newID()), sess.ID, u, now)
	default:
		return nil, retry.Permanent(err)
	}

	if sess.IsFull() {
		return nil, retry.Permanent(shared.ErrSessionFull)
	}
	if err := h.exams.Register(ctx, reg, sess.Version); err != nil {
		if isCASConflict(err) {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	h.log.Info("exam registration",
		logger.UserID(string(u.ID)),
		logger.ExamID(string(sess.ID)),
		logger.String("rank", u.Rank().String()),
	)
	seats := sess.CurrentParticipants + 1
	publish(h.eventPublisher, shared.NewExamRegisteredEvent(string(sess.ID), string(u.ID), string(sess.Type), seats, now))

	left := sess.MaxParticipants - seats
	if left < 0 {
		left = 0
	}
	return &RegistrationResult{
		RegistrationID: reg.ID,
		SessionID:      sess.ID,
		UserID:         u.ID,
		Status:         reg.Status,
		Belt:           reg.Rank.Belt,
		Degree:         reg.Rank.Degree,
		RegisteredAt:   reg.RegisteredAt,
		SeatsLeft:      left,
	}, nil
}
