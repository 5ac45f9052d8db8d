// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/beltline/progression-engine/internal/application/command"
	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SessionCompleter closes one session.
type SessionCompleter interface {
	Complete(ctx context.Context, cmd command.SessionStatusCommand) (*query.SessionDTO, error)
}

// DueSessions lists scheduled sessions whose date is before a cutoff.
type DueSessions interface {
	ListDue(ctx context.Context, before time.Time, limit int) ([]*exam.Session, error)
}

// CloseSessionsJob completes scheduled sessions once their date is further
// in the past than the grace period, so no new registrations or
// cancellations reach them.
type CloseSessionsJob struct {
	sessions  DueSessions
	completer SessionCompleter
	clock     timeutil.Clock
	grace     time.Duration
	batch     int
	log       *logger.Logger
}

// NewCloseSessionsJob creates the job. grace is how long after its start a
// session stays scheduled so outcomes can still be entered.
func NewCloseSessionsJob(sessions DueSessions, completer SessionCompleter, clock timeutil.Clock, grace time.Duration, log *logger.Logger) *CloseSessionsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &CloseSessionsJob{
		sessions:  sessions,
		completer: completer,
		clock:     clock,
		grace:     grace,
		batch:     100,
		log:       log.With(logger.Component("close_sessions")),
	}
}

func (j *CloseSessionsJob) Name() string { return "close_sessions" }

func (j *CloseSessionsJob) Description() string {
	return "completes exam sessions whose date has passed"
}

func (j *CloseSessionsJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().Add(-j.grace)
	due, err := j.sessions.ListDue(ctx, cutoff, j.batch)
	if err != nil {
		return err
	}

	closed := 0
	var errs []error
	for _, s := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := j.completer.Complete(ctx, command.SessionStatusCommand{SessionID: s.ID})
		switch {
		case err == nil:
			closed++
		case errors.Is(err, shared.ErrInvalidSessionState):
			// closed concurrently
		default:
			j.log.Warn("complete session failed", logger.ExamID(string(s.ID)), logger.Err(err))
			errs = append(errs, err)
		}
	}
	if closed > 0 {
		j.log.Info("sessions closed", logger.Int("count", closed))
	}
	return errors.Join(errs...)
}
