package exam

import (
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// RegistrationStatus follows none → registered → attended | cancelled.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

type RegistrationID string

// Outcome is the recorded result of an attended exam.
type Outcome struct {
	Passed     bool
	RecordedAt time.Time
	RecordedBy string
}

// Registration claims one seat of a session for one user.
type Registration struct {
	ID        RegistrationID
	SessionID SessionID
	UserID    user.ID
	Status    RegistrationStatus

	// Rank is the user's belt/degree when the seat was claimed.
	Rank belt.Rank

	RegisteredAt time.Time
	CancelledAt  *time.Time
	Outcome      *Outcome
}

// NewRegistration creates an active registration for u.
func NewRegistration(id RegistrationID, sessionID SessionID, u *user.User, at time.Time) *Registration {
	return &Registration{
		ID:           id,
		SessionID:    sessionID,
		UserID:       u.ID,
		Status:       RegistrationRegistered,
		Rank:         u.Rank(),
		RegisteredAt: at,
	}
}

// IsActive reports whether the registration holds a seat.
func (r *Registration) IsActive() bool { return r.Status == RegistrationRegistered }

// Reactivate turns a cancelled registration back into an active one.
func (r *Registration) Reactivate(u *user.User, at time.Time) error {
	if r.Status != RegistrationCancelled {
		return shared.ErrAlreadyRegistered
	}
	r.Status = RegistrationRegistered
	r.Rank = u.Rank()
	r.RegisteredAt = at
	r.CancelledAt = nil
	return nil
}

// Cancel releases the seat.
func (r *Registration) Cancel(at time.Time) error {
	if !r.IsActive() {
		return shared.ErrNotRegistered
	}
	r.Status = RegistrationCancelled
	r.CancelledAt = &at
	return nil
}

// Attend stores the outcome. The registration must still hold its seat and
// the user must not have moved since registering.
func (r *Registration) Attend(current belt.Rank, o Outcome) error {
	if !r.IsActive() {
		return shared.ErrNotRegistered
	}
	if current != r.Rank {
		return shared.ErrStaleRegistration
	}
	r.Status = RegistrationAttended
	r.Outcome = &o
	return nil
}
