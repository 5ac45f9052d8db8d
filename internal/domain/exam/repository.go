package exam

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// ListFilter narrows ListSessions. Zero fields are ignored.
type ListFilter struct {
	StepID curriculum.StepID
	Status SessionStatus
	From   time.Time
	Limit  int
}

// OutcomeCommit is everything recordOutcome writes in one transaction.
type OutcomeCommit struct {
	// Registration has already been moved to attended.
	Registration *Registration

	// User and Promotion are set only when the exam was passed.
	User                *user.User
	ExpectedUserVersion int64
	Promotion           *user.Promotion
}

// Repository persists sessions and registrations.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns shared.ErrSessionNotFound for unknown IDs. The
	// returned session has CurrentParticipants filled from active
	// registrations.
	GetSession(ctx context.Context, id SessionID) (*Session, error)

	ListSessions(ctx context.Context, f ListFilter) ([]*Session, error)

	// UpdateSessionStatus writes s.Status if the stored version is still
	// expectedVersion, else shared.ErrConcurrentModification.
	UpdateSessionStatus(ctx context.Context, s *Session, expectedVersion int64) error

	// ListDue returns scheduled sessions whose date is before the cutoff.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// GetRegistration returns shared.ErrNotRegistered when the pair has never
	// registered. Cancelled registrations are returned as they are.
	GetRegistration(ctx context.Context, sessionID SessionID, userID user.ID) (*Registration, error)

	ListRegistrations(ctx context.Context, sessionID SessionID) ([]*Registration, error)

	// Register stores reg (insert, or reactivation of a cancelled row) as a
	// compare-and-swap on the session version:
	//   - the version moved since the caller read it: ErrConcurrentModification
	//   - every seat is taken: ErrSessionFull
	//   - the pair already holds a seat: ErrAlreadyRegistered
	// On success the session version is bumped.
	Register(ctx context.Context, reg *Registration, expectedVersion int64) error

	// Cancel persists a cancelled registration and bumps the session version.
	Cancel(ctx context.Context, reg *Registration) error

	// RecordOutcome writes the attended registration and, for passes, the
	// user's new belt/degree plus the promotion audit row. The user write is
	// guarded by ExpectedUserVersion.
	RecordOutcome(ctx context.Context, c OutcomeCommit) error
}
