package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError describes a failed request. Requirements is set when an exam
// registration is refused by the eligibility rules.
type APIError struct {
	Code         string                    `json:"code"`
	Message      string                    `json:"message"`
	Requirements []eligibility.Requirement `json:"requirements,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(c *gin.Context, status int, data interface{}) {
	writeJSONWithMeta(c, status, data, nil)
}

func writeJSONWithMeta(c *gin.Context, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"
	c.JSON(status, JSONResponse{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: requestID(c),
	})
}

func writeJSONError(c *gin.Context, status int, apiErr APIError) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &apiErr,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: requestID(c),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps an application error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsEligibilityDenied(err):
		return http.StatusForbidden, "not_eligible"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsConflict(err), errors.Is(err, shared.ErrConcurrentModification):
		return http.StatusConflict, conflictCode(err)
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

var conflictCodes = []struct {
	err  error
	code string
}{
	{shared.ErrDuplicateCategoryToday, "duplicate_category_today"},
	{shared.ErrSessionFull, "session_full"},
	{shared.ErrAlreadyRegistered, "already_registered"},
	{shared.ErrSessionClosed, "session_closed"},
	{shared.ErrAlreadyCompleted, "already_completed"},
	{shared.ErrInvalidTransition, "invalid_transition"},
	{shared.ErrInvalidSessionState, "invalid_session_state"},
	{shared.ErrStaleRegistration, "stale_registration"},
}

func conflictCode(err error) string {
	for _, cc := range conflictCodes {
		if errors.Is(err, cc.err) {
			return cc.code
		}
	}
	return "conflict"
}

// respondError writes err as an API error. Server side failures are logged
// with the request's logger; invariant violations at error level.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	apiErr := APIError{Code: code, Message: err.Error()}

	var denied *eligibility.DeniedError
	if errors.As(err, &denied) {
		apiErr.Requirements = denied.Verdict.Requirements
	}

	if status >= http.StatusInternalServerError {
		log := s.requestLogger(c)
		if shared.IsInvariant(err) {
			log.Error("invariant violation", logger.Err(err))
		} else {
			log.Error("request failed", logger.Err(err))
		}
		if status == http.StatusInternalServerError {
			apiErr.Message = "an unexpected error occurred"
		}
	}
	writeJSONError(c, status, apiErr)
}
