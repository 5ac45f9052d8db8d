// Package exam models certification sessions with limited seats and the
// registrations that claim them.
package exam

import (
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type says what a passed exam grants.
type Type string

const (
	TypeDegree Type = "degree"
	TypeBelt   Type = "belt"
)

func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeDegree:
		return TypeDegree, nil
	case TypeBelt:
		return TypeBelt, nil
	default:
		return "", shared.ValidationError("exam", "ParseType", "exam_type", "must be degree or belt")
	}
}

func (t Type) IsValid() bool { return t == TypeDegree || t == TypeBelt }

// Advancement maps the exam type onto the user aggregate's vocabulary.
func (t Type) Advancement() user.Advancement {
	if t == TypeBelt {
		return user.AdvanceBelt
	}
	return user.AdvanceDegree
}

// SessionStatus is scheduled until an administrator or the closing job
// moves it to completed or cancelled.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SESSION
// ══════════════════════════════════════════════════════════════════════════════

type SessionID string

// Session is a scheduled exam.
type Session struct {
	ID              SessionID
	StepID          curriculum.StepID
	Type            Type
	Date            time.Time
	Location        string
	MaxParticipants int

	// CurrentParticipants is derived from active registrations by the
	// repository; it is never written on its own.
	CurrentParticipants int

	Status SessionStatus

	// Version is the compare-and-swap token for seat allocation.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSessionParams holds the inputs of NewSession.
type NewSessionParams struct {
	ID              SessionID
	StepID          curriculum.StepID
	Type            Type
	Date            time.Time
	Location        string
	MaxParticipants int
	Now             time.Time
}

// NewSession validates and creates a scheduled session.
func NewSession(p NewSessionParams) (*Session, error) {
	if p.ID == "" {
		return nil, shared.ValidationError("exam", "ScheduleSession", "id", "required")
	}
	if strings.TrimSpace(string(p.StepID)) == "" {
		return nil, shared.ValidationError("exam", "ScheduleSession", "step_id", "required")
	}
	if !p.Type.IsValid() {
		return nil, shared.ValidationError("exam", "ScheduleSession", "type", "must be degree or belt")
	}
	if p.Date.IsZero() {
		return nil, shared.ValidationError("exam", "ScheduleSession", "date", "required")
	}
	if !p.Date.After(p.Now) {
		return nil, shared.NewDomainError("exam", "ScheduleSession", shared.ErrValidation, "date: must be in the future")
	}
	if p.MaxParticipants <= 0 {
		return nil, shared.ValidationError("exam", "ScheduleSession", "max_participants", "must be > 0")
	}
	return &Session{
		ID:              p.ID,
		StepID:          p.StepID,
		Type:            p.Type,
		Date:            p.Date,
		Location:        strings.TrimSpace(p.Location),
		MaxParticipants: p.MaxParticipants,
		Status:          SessionScheduled,
		Version:         1,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}, nil
}

// HasStarted reports whether the session date has been reached.
func (s *Session) HasStarted(now time.Time) bool { return !now.Before(s.Date) }

// SeatsLeft never goes below zero.
func (s *Session) SeatsLeft() int {
	if left := s.MaxParticipants - s.CurrentParticipants; left > 0 {
		return left
	}
	return 0
}

// IsFull reports whether every seat is taken.
func (s *Session) IsFull() bool { return s.CurrentParticipants >= s.MaxParticipants }

// CheckOpen returns ErrSessionClosed unless the session is scheduled and
// has not started yet.
func (s *Session) CheckOpen(now time.Time) error {
	if s.Status != SessionScheduled || s.HasStarted(now) {
		return shared.ErrSessionClosed
	}
	return nil
}

// Complete closes a scheduled session after it took place.
func (s *Session) Complete(now time.Time) error {
	if s.Status != SessionScheduled {
		return shared.ErrInvalidSessionState
	}
	s.Status = SessionCompleted
	s.UpdatedAt = now
	return nil
}

// Cancel aborts a scheduled session.
func (s *Session) Cancel(now time.Time) error {
	if s.Status != SessionScheduled {
		return shared.ErrInvalidSessionState
	}
	s.Status = SessionCancelled
	s.UpdatedAt = now
	return nil
}
