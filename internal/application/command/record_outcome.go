package command

import (
	"context"
	"errors"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/retry"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD OUTCOME COMMAND
// The only path that changes a user's belt or degree.
// ══════════════════════════════════════════════════════════════════════════════

// RecordOutcomeCommand stores the result of an attended exam.
type RecordOutcomeCommand struct {
	SessionID  exam.SessionID
	UserID     user.ID
	Passed     bool
	RecordedBy string
}

// Validate validates the command.
func (c RecordOutcomeCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if c.SessionID == "" {
		return shared.ValidationError("exam", "RecordOutcome", "session_id", "required")
	}
	return nil
}

// RecordOutcomeResult is the user's rank after the outcome.
type RecordOutcomeResult struct {
	UserID   user.ID     `json:"user_id"`
	Passed   bool        `json:"passed"`
	Belt     belt.Belt   `json:"belt"`
	Degree   belt.Degree `json:"degree"`
	Promoted bool        `json:"promoted"`
}

// RecordOutcomeHandler handles RecordOutcomeCommand.
type RecordOutcomeHandler struct {
	users          user.Repository
	exams          exam.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	retrier        *retry.Retrier
	log            *logger.Logger
}

// NewRecordOutcomeHandler creates a new RecordOutcomeHandler.
func NewRecordOutcomeHandler(
	users user.Repository,
	exams exam.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	retryCfg RetryConfig,
	log *logger.Logger,
) *RecordOutcomeHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordOutcomeHandler{
		users:          users,
		exams:          exams,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retryCfg.retrier(),
		log:            log.With(logger.Component("outcome")),
	}
}

// Handle executes the command.
//
// The registration's rank snapshot must still match the user; otherwise
// another outcome already moved them and shared.ErrStaleRegistration is
// returned. Passing a belt exam at the top belt is an invariant violation.
func (h *RecordOutcomeHandler) Handle(ctx context.Context, cmd RecordOutcomeCommand) (*RecordOutcomeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var (
		result *RecordOutcomeResult
		event  shared.Event
	)
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		now := h.clock.Now()

		sess, err := h.exams.GetSession(ctx, cmd.SessionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if sess.Status == exam.SessionCancelled {
			return retry.Permanent(shared.ErrInvalidSessionState)
		}
		reg, err := h.exams.GetRegistration(ctx, sess.ID, cmd.UserID)
		if err != nil {
			return retry.Permanent(err)
		}
		u, err := h.users.Get(ctx, cmd.UserID)
		if err != nil {
			return retry.Permanent(err)
		}

		from := u.Rank()
		if err := reg.Attend(from, exam.Outcome{Passed: cmd.Passed, RecordedAt: now, RecordedBy: cmd.RecordedBy}); err != nil {
			return retry.Permanent(err)
		}

		commit := exam.OutcomeCommit{Registration: reg}
		if cmd.Passed {
			expected := u.Version
			promo, err := u.Promote(sess.Type.Advancement(), string(sess.ID), now)
			if err != nil {
				return retry.Permanent(err)
			}
			commit.User = u
			commit.ExpectedUserVersion = expected
			commit.Promotion = &promo
		}
		if err := h.exams.RecordOutcome(ctx, commit); err != nil {
			if isCASConflict(err) {
				return err
			}
			return retry.Permanent(err)
		}

		to := u.Rank()
		result = &RecordOutcomeResult{
			UserID:   u.ID,
			Passed:   cmd.Passed,
			Belt:     to.Belt,
			Degree:   to.Degree,
			Promoted: from != to,
		}
		event = outcomeEvent(sess, u.ID, cmd.Passed, from, to, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvariant) {
			h.log.Error("invariant violation while recording outcome",
				logger.UserID(string(cmd.UserID)),
				logger.ExamID(string(cmd.SessionID)),
				logger.Err(err),
			)
		}
		if retry.IsExhausted(err) {
			return nil, errors.Unwrap(err)
		}
		return nil, err
	}

	h.log.Info("exam outcome recorded",
		logger.UserID(string(result.UserID)),
		logger.ExamID(string(cmd.SessionID)),
		logger.Bool("passed", result.Passed),
		logger.String("rank", belt.Rank{Belt: result.Belt, Degree: result.Degree}.String()),
	)
	publish(h.eventPublisher, event)
	return result, nil
}

func outcomeEvent(sess *exam.Session, userID user.ID, passed bool, from, to belt.Rank, at time.Time) shared.Event {
	t := shared.EventExamFailed
	if passed {
		t = shared.EventDegreeAwarded
		if sess.Type == exam.TypeBelt {
			t = shared.EventBeltAwarded
		}
	}
	return shared.NewProgressionEvent(t, string(userID), string(sess.ID),
		string(from.Belt), int(from.Degree), string(to.Belt), int(to.Degree), at)
}
