package query

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXAM SESSION QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// SessionDTO is the public view of an exam session.
type SessionDTO struct {
	ID                  exam.SessionID     `json:"id"`
	StepID              curriculum.StepID  `json:"step_id"`
	Type                exam.Type          `json:"type"`
	Date                time.Time          `json:"date"`
	Location            string             `json:"location,omitempty"`
	MaxParticipants     int                `json:"max_participants"`
	CurrentParticipants int                `json:"current_participants"`
	SeatsLeft           int                `json:"seats_left"`
	Status              exam.SessionStatus `json:"status"`
}

// RegistrationDTO is one seat claim.
type RegistrationDTO struct {
	UserID       user.ID                 `json:"user_id"`
	Status       exam.RegistrationStatus `json:"status"`
	Belt         belt.Belt               `json:"belt"`
	Degree       belt.Degree             `json:"degree"`
	RegisteredAt time.Time               `json:"registered_at"`
	CancelledAt  *time.Time              `json:"cancelled_at,omitempty"`
	Passed       *bool                   `json:"passed,omitempty"`
}

// SessionDetailDTO adds the registrations, for administrators.
type SessionDetailDTO struct {
	SessionDTO
	Registrations []RegistrationDTO `json:"registrations,omitempty"`
}

// NewSessionDTO maps a session.
func NewSessionDTO(s *exam.Session) SessionDTO {
	return SessionDTO{
		ID:                  s.ID,
		StepID:              s.StepID,
		Type:                s.Type,
		Date:                s.Date,
		Location:            s.Location,
		MaxParticipants:     s.MaxParticipants,
		CurrentParticipants: s.CurrentParticipants,
		SeatsLeft:           s.SeatsLeft(),
		Status:              s.Status,
	}
}

// NewRegistrationDTO maps a registration.
func NewRegistrationDTO(r *exam.Registration) RegistrationDTO {
	dto := RegistrationDTO{
		UserID:       r.UserID,
		Status:       r.Status,
		Belt:         r.Rank.Belt,
		Degree:       r.Rank.Degree,
		RegisteredAt: r.RegisteredAt,
		CancelledAt:  r.CancelledAt,
	}
	if r.Outcome != nil {
		passed := r.Outcome.Passed
		dto.Passed = &passed
	}
	return dto
}

// ListSessionsQuery filters sessions. By default only scheduled sessions
// are listed.
type ListSessionsQuery struct {
	StepID curriculum.StepID
	Status exam.SessionStatus
	From   time.Time
	Limit  int
}

// GetSessionQuery reads one session. WithRegistrations is honoured only for
// privileged callers.
type GetSessionQuery struct {
	SessionID         exam.SessionID
	WithRegistrations bool
}

// SessionsHandler serves both session queries.
type SessionsHandler struct {
	exams exam.Repository
}

// NewSessionsHandler creates a SessionsHandler.
func NewSessionsHandler(exams exam.Repository) *SessionsHandler {
	return &SessionsHandler{exams: exams}
}

// List executes ListSessionsQuery.
func (h *SessionsHandler) List(ctx context.Context, q ListSessionsQuery) ([]SessionDTO, error) {
	if q.Status == "" {
		q.Status = exam.SessionScheduled
	}
	switch q.Status {
	case exam.SessionScheduled, exam.SessionCompleted, exam.SessionCancelled:
	default:
		return nil, shared.ValidationError("exam", "ListSessions", "status", "unknown status")
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}

	sessions, err := h.exams.ListSessions(ctx, exam.ListFilter{
		StepID: q.StepID,
		Status: q.Status,
		From:   q.From,
		Limit:  q.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, NewSessionDTO(s))
	}
	return out, nil
}

// Get executes GetSessionQuery.
func (h *SessionsHandler) Get(ctx context.Context, q GetSessionQuery) (*SessionDetailDTO, error) {
	if q.SessionID == "" {
		return nil, shared.ValidationError("exam", "GetSession", "session_id", "required")
	}
	s, err := h.exams.GetSession(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}
	dto := &SessionDetailDTO{SessionDTO: NewSessionDTO(s)}
	if !q.WithRegistrations {
		return dto, nil
	}

	regs, err := h.exams.ListRegistrations(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}
	dto.Registrations = make([]RegistrationDTO, 0, len(regs))
	for _, r := range regs {
		dto.Registrations = append(dto.Registrations, NewRegistrationDTO(r))
	}
	return dto, nil
}
