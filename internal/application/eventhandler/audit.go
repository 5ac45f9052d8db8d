// Package eventhandler contains subscribers of the domain event bus.
package eventhandler

import (
	"strconv"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT LOG
// Every domain event is written to the structured log. Promotions and
// failed exams are logged at info, routine activity at debug.
// ═══════════════════════════════════════════════════════════════════════════

// AuditConfig tunes the audit handler.
type AuditConfig struct {
	// VerboseTypes are logged at info level instead of debug.
	VerboseTypes []shared.EventType
}

// DefaultAuditConfig logs progression outcomes and review decisions at info.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		VerboseTypes: []shared.EventType{
			shared.EventDegreeAwarded,
			shared.EventBeltAwarded,
			shared.EventExamFailed,
			shared.EventProgressReviewed,
			shared.EventSessionClosed,
		},
	}
}

// AuditHandler logs events.
type AuditHandler struct {
	logger  *logger.Logger
	verbose map[shared.EventType]bool
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(log *logger.Logger, config AuditConfig) *AuditHandler {
	if log == nil {
		log = logger.Nop()
	}
	verbose := make(map[shared.EventType]bool, len(config.VerboseTypes))
	for _, t := range config.VerboseTypes {
		verbose[t] = true
	}
	return &AuditHandler{
		logger:  log.With(logger.Component("audit")),
		verbose: verbose,
	}
}

// Handle implements shared.EventHandler. It never fails.
func (h *AuditHandler) Handle(event shared.Event) error {
	fields := []logger.Field{
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()),
	}
	if c, ok := event.(interface{ Correlation() string }); ok && c.Correlation() != "" {
		fields = append(fields, logger.String("correlation_id", c.Correlation()))
	}

	switch e := event.(type) {
	case shared.ProgressionEvent:
		fields = append(fields,
			logger.UserID(e.UserID),
			logger.ExamID(e.SessionID),
			logger.String("from", beltLabel(e.FromBelt, e.FromDegree)),
			logger.String("to", beltLabel(e.ToBelt, e.ToDegree)),
		)
	case shared.RegistrationEvent:
		fields = append(fields, logger.UserID(e.UserID), logger.ExamID(e.SessionID), logger.Int("seats_taken", e.Seats))
	case shared.ProgressReviewedEvent:
		fields = append(fields, logger.UserID(e.UserID), logger.ItemID(e.ItemID), logger.String("status", e.Status))
	case shared.CheckinRecordedEvent:
		fields = append(fields, logger.UserID(e.UserID), logger.Category(e.Category))
	default:
		fields = append(fields, logger.Any("payload", event.Payload()))
	}

	if h.verbose[event.EventType()] {
		h.logger.Info("domain event", fields...)
	} else {
		h.logger.Debug("domain event", fields...)
	}
	return nil
}

func beltLabel(b string, degree int) string {
	if degree == 0 {
		return b
	}
	return b + "/" + strconv.Itoa(degree)
}
