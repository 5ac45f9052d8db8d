package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beltline/progression-engine/internal/application/command"
	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type checkinRequest struct {
	UserID      string `json:"user_id"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Note        string `json:"note"`
	EvidenceRef string `json:"evidence_ref"`
}

type evidenceRequest struct {
	UserID      string `json:"user_id"`
	Note        string `json:"note"`
	EvidenceRef string `json:"evidence_ref"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

type registerRequest struct {
	UserID string `json:"user_id"`
}

type outcomeRequest struct {
	UserID string `json:"user_id"`
	Passed *bool  `json:"passed"`
}

type scheduleRequest struct {
	StepID          string    `json:"step_id"`
	Type            string    `json:"type"`
	Date            time.Time `json:"date"`
	Location        string    `json:"location"`
	MaxParticipants int       `json:"max_participants"`
}

// bind decodes a JSON body. An empty body decodes to the zero value.
func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, shared.NewDomainError("http", "Decode", shared.ErrInvalidInput, "malformed JSON body: "+err.Error()))
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-INS AND PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRecordCheckin(c *gin.Context) {
	var req checkinRequest
	if !s.bind(c, &req) {
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	cat, err := checkin.ParseCategory(req.Category)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var day time.Time
	if req.Date != "" {
		if day, err = timeutil.ParseDay(req.Date); err != nil {
			s.respondError(c, shared.ValidationError("checkin", "Record", "date", "must be YYYY-MM-DD"))
			return
		}
	}

	res, err := s.deps.RecordCheckin.Handle(c.Request.Context(), command.RecordCheckinCommand{
		UserID:        userID,
		Category:      cat,
		Date:          day,
		Note:          req.Note,
		EvidenceRef:   req.EvidenceRef,
		CorrelationID: requestID(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (s *Server) handleSubmitEvidence(c *gin.Context) {
	var req evidenceRequest
	if !s.bind(c, &req) {
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.SubmitEvidence.Handle(c.Request.Context(), command.SubmitEvidenceCommand{
		UserID:      userID,
		ItemID:      curriculum.ItemID(c.Param("id")),
		Note:        req.Note,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (s *Server) handleReviewProgress(c *gin.Context) {
	var req reviewRequest
	if !s.bind(c, &req) {
		return
	}
	decision, err := progress.ParseDecision(req.Decision)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.ReviewProgress.Handle(c.Request.Context(), command.ReviewProgressCommand{
		RecordID:   progress.RecordID(c.Param("id")),
		Decision:   decision,
		Note:       req.Note,
		ReviewerID: actor(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ELIGIBILITY AND EXAMS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetEligibility(c *gin.Context) {
	userID, err := actingUser(c, c.Query("user_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	q := query.GetEligibilityQuery{UserID: userID, StepID: curriculum.StepID(c.Query("step_id"))}
	if raw := c.Query("exam_type"); raw != "" {
		if q.ExamType, err = exam.ParseType(raw); err != nil {
			s.respondError(c, err)
			return
		}
	}
	res, err := s.deps.GetEligibility.Handle(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleRegisterExam(c *gin.Context) {
	var req registerRequest
	if !s.bind(c, &req) {
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.RegisterExam.Handle(c.Request.Context(), command.RegisterExamCommand{
		UserID:    userID,
		SessionID: exam.SessionID(c.Param("id")),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (s *Server) handleCancelRegistration(c *gin.Context) {
	userID, err := actingUser(c, c.Param("userId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	err = s.deps.CancelRegistration.Handle(c.Request.Context(), command.CancelRegistrationCommand{
		UserID:    userID,
		SessionID: exam.SessionID(c.Param("id")),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Passed == nil {
		s.respondError(c, shared.ValidationError("exam", "RecordOutcome", "passed", "required"))
		return
	}
	res, err := s.deps.RecordOutcome.Handle(c.Request.Context(), command.RecordOutcomeCommand{
		SessionID:  exam.SessionID(c.Param("id")),
		UserID:     user.ID(strings.TrimSpace(req.UserID)),
		Passed:     *req.Passed,
		RecordedBy: actor(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleScheduleSession(c *gin.Context) {
	var req scheduleRequest
	if !s.bind(c, &req) {
		return
	}
	typ, err := exam.ParseType(req.Type)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.SessionAdmin.Schedule(c.Request.Context(), command.ScheduleSessionCommand{
		StepID:          curriculum.StepID(req.StepID),
		Type:            typ,
		Date:            req.Date,
		Location:        req.Location,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (s *Server) handleCompleteSession(c *gin.Context) {
	res, err := s.deps.SessionAdmin.Complete(c.Request.Context(), command.SessionStatusCommand{SessionID: exam.SessionID(c.Param("id"))})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleCancelSession(c *gin.Context) {
	res, err := s.deps.SessionAdmin.Cancel(c.Request.Context(), command.SessionStatusCommand{SessionID: exam.SessionID(c.Param("id"))})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleListSessions(c *gin.Context) {
	q := query.ListSessionsQuery{
		StepID: curriculum.StepID(c.Query("step_id")),
		Status: exam.SessionStatus(c.Query("status")),
		Limit:  queryInt(c, "limit", 0),
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(c, shared.ValidationError("exam", "ListSessions", "from", "must be RFC 3339"))
			return
		}
		q.From = from
	}
	res, err := s.deps.Sessions.List(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, res, &ResponseMeta{TotalCount: len(res)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	res, err := s.deps.Sessions.Get(c.Request.Context(), query.GetSessionQuery{
		SessionID:         exam.SessionID(c.Param("id")),
		WithRegistrations: c.GetBool(ctxPrivileged),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetUser(c *gin.Context) {
	res, err := s.deps.GetUser.Handle(c.Request.Context(), query.GetUserQuery{UserID: user.ID(c.Param("id"))})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleGetScore(c *gin.Context) {
	res, err := s.deps.GetScore.Handle(c.Request.Context(), query.GetScoreQuery{UserID: user.ID(c.Param("id"))})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleListCheckins(c *gin.Context) {
	q := query.ListCheckinsQuery{UserID: user.ID(c.Param("id"))}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		d, err := timeutil.ParseDay(raw)
		if err != nil {
			s.respondError(c, shared.ValidationError("checkin", "List", p.name, "must be YYYY-MM-DD"))
			return
		}
		*p.dst = d
	}
	res, err := s.deps.ListCheckins.Handle(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, res, &ResponseMeta{TotalCount: len(res)})
}

func (s *Server) handleGetLeaderboard(c *gin.Context) {
	res, err := s.deps.GetLeaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{Limit: queryInt(c, "limit", 0)})
	if err != nil {
		s.respondError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
