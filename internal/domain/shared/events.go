package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// Progress events
	EventEvidenceSubmitted EventType = "progress.evidence_submitted"
	EventProgressReviewed  EventType = "progress.reviewed"

	// Check-in events
	EventCheckinRecorded EventType = "checkin.recorded"
	EventStreakUpdated   EventType = "checkin.streak_updated"

	// Exam events
	EventExamRegistered        EventType = "exam.registered"
	EventRegistrationCancelled EventType = "exam.registration_cancelled"
	EventExamFailed            EventType = "exam.failed"
	EventSessionClosed         EventType = "exam.session_closed"

	// Progression events
	EventDegreeAwarded EventType = "progression.degree_awarded"
	EventBeltAwarded   EventType = "progression.belt_awarded"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the user or session the event belongs to.
	AggregateID() string
	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }
func (e BaseEvent) Correlation() string   { return e.CorrelationID }

// NewBaseEvent creates a new base event stamped with at.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// EvidenceSubmittedEvent is emitted when a record enters pending review.
type EvidenceSubmittedEvent struct {
	BaseEvent
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id"`
	StepID   string `json:"step_id"`
	Resubmit bool   `json:"resubmit"`
}

func (e EvidenceSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"record_id": e.RecordID,
		"user_id":   e.UserID,
		"item_id":   e.ItemID,
		"step_id":   e.StepID,
		"resubmit":  e.Resubmit,
	}
}

func NewEvidenceSubmittedEvent(recordID, userID, itemID, stepID string, resubmit bool, at time.Time) EvidenceSubmittedEvent {
	return EvidenceSubmittedEvent{
		BaseEvent: NewBaseEvent(EventEvidenceSubmitted, userID, at),
		RecordID:  recordID,
		UserID:    userID,
		ItemID:    itemID,
		StepID:    stepID,
		Resubmit:  resubmit,
	}
}

// ProgressReviewedEvent is emitted after a reviewer approves or rejects.
type ProgressReviewedEvent struct {
	BaseEvent
	RecordID   string `json:"record_id"`
	UserID     string `json:"user_id"`
	ItemID     string `json:"item_id"`
	Status     string `json:"status"`
	ReviewerID string `json:"reviewer_id,omitempty"`
	Points     int    `json:"points"`
}

func (e ProgressReviewedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"record_id":   e.RecordID,
		"user_id":     e.UserID,
		"item_id":     e.ItemID,
		"status":      e.Status,
		"reviewer_id": e.ReviewerID,
		"points":      e.Points,
	}
}

func NewProgressReviewedEvent(recordID, userID, itemID, status, reviewerID string, points int, at time.Time) ProgressReviewedEvent {
	return ProgressReviewedEvent{
		BaseEvent:  NewBaseEvent(EventProgressReviewed, userID, at),
		RecordID:   recordID,
		UserID:     userID,
		ItemID:     itemID,
		Status:     status,
		ReviewerID: reviewerID,
		Points:     points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Check-in Events
// ═══════════════════════════════════════════════════════════════════════════

// CheckinRecordedEvent is emitted for every accepted check-in.
type CheckinRecordedEvent struct {
	BaseEvent
	CheckinID string    `json:"checkin_id"`
	UserID    string    `json:"user_id"`
	Day       time.Time `json:"day"`
	Category  string    `json:"category"`
	Points    int       `json:"points"`
}

func (e CheckinRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"checkin_id": e.CheckinID,
		"user_id":    e.UserID,
		"day":        e.Day.Format("2006-01-02"),
		"category":   e.Category,
		"points":     e.Points,
	}
}

func NewCheckinRecordedEvent(checkinID, userID string, day time.Time, category string, points int, at time.Time) CheckinRecordedEvent {
	return CheckinRecordedEvent{
		BaseEvent: NewBaseEvent(EventCheckinRecorded, userID, at),
		CheckinID: checkinID,
		UserID:    userID,
		Day:       day,
		Category:  category,
		Points:    points,
	}
}

// StreakUpdatedEvent is emitted when the cached streak changes value.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	Previous    int    `json:"previous"`
	Current     int    `json:"current"`
	TotalPoints int    `json:"total_points"`
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"previous":     e.Previous,
		"current":      e.Current,
		"total_points": e.TotalPoints,
	}
}

func NewStreakUpdatedEvent(userID string, previous, current, totalPoints int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:   NewBaseEvent(EventStreakUpdated, userID, at),
		UserID:      userID,
		Previous:    previous,
		Current:     current,
		TotalPoints: totalPoints,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Exam Events
// ═══════════════════════════════════════════════════════════════════════════

// RegistrationEvent covers both registration and cancellation.
type RegistrationEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ExamType  string `json:"exam_type"`
	Seats     int    `json:"seats_taken"`
}

func (e RegistrationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID,
		"user_id":     e.UserID,
		"exam_type":   e.ExamType,
		"seats_taken": e.Seats,
	}
}

func NewExamRegisteredEvent(sessionID, userID, examType string, seats int, at time.Time) RegistrationEvent {
	return RegistrationEvent{
		BaseEvent: NewBaseEvent(EventExamRegistered, userID, at),
		SessionID: sessionID,
		UserID:    userID,
		ExamType:  examType,
		Seats:     seats,
	}
}

func NewRegistrationCancelledEvent(sessionID, userID, examType string, seats int, at time.Time) RegistrationEvent {
	return RegistrationEvent{
		BaseEvent: NewBaseEvent(EventRegistrationCancelled, userID, at),
		SessionID: sessionID,
		UserID:    userID,
		ExamType:  examType,
		Seats:     seats,
	}
}

// SessionClosedEvent is emitted when a session is completed or cancelled.
type SessionClosedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (e SessionClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"status":     e.Status,
	}
}

func NewSessionClosedEvent(sessionID, status string, at time.Time) SessionClosedEvent {
	return SessionClosedEvent{
		BaseEvent: NewBaseEvent(EventSessionClosed, sessionID, at),
		SessionID: sessionID,
		Status:    status,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressionEvent records an exam outcome. Type distinguishes degree
// awards, belt awards and failed attempts.
type ProgressionEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	FromBelt   string `json:"from_belt"`
	FromDegree int    `json:"from_degree"`
	ToBelt     string `json:"to_belt"`
	ToDegree   int    `json:"to_degree"`
}

func (e ProgressionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"session_id":  e.SessionID,
		"from_belt":   e.FromBelt,
		"from_degree": e.FromDegree,
		"to_belt":     e.ToBelt,
		"to_degree":   e.ToDegree,
	}
}

func NewProgressionEvent(t EventType, userID, sessionID, fromBelt string, fromDegree int, toBelt string, toDegree int, at time.Time) ProgressionEvent {
	return ProgressionEvent{
		BaseEvent:  NewBaseEvent(t, userID, at),
		UserID:     userID,
		SessionID:  sessionID,
		FromBelt:   fromBelt,
		FromDegree: fromDegree,
		ToBelt:     toBelt,
		ToDegree:   toDegree,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serialises an event's payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     payload,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
