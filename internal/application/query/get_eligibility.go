package query

import (
	"context"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ELIGIBILITY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetEligibilityQuery asks whether a user may attempt an exam of a step.
type GetEligibilityQuery struct {
	UserID   user.ID
	StepID   curriculum.StepID
	ExamType exam.Type
}

// Validate checks the query.
func (q GetEligibilityQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if q.StepID == "" {
		return shared.ValidationError("eligibility", "Get", "step_id", "required")
	}
	if !q.ExamType.IsValid() {
		return shared.ValidationError("eligibility", "Get", "exam_type", "must be degree or belt")
	}
	return nil
}

// EligibilityDTO is the verdict plus the context it was computed in.
type EligibilityDTO struct {
	UserID       user.ID                   `json:"user_id"`
	StepID       curriculum.StepID         `json:"step_id"`
	AsOf         string                    `json:"as_of"`
	Eligible     bool                      `json:"eligible"`
	ExamType     exam.Type                 `json:"exam_type"`
	Requirements []eligibility.Requirement `json:"requirements"`
}

// GetEligibilityHandler evaluates the gate without side effects beyond lazy
// user provisioning.
type GetEligibilityHandler struct {
	facts  *FactsLoader
	engine *eligibility.Engine
}

// NewGetEligibilityHandler creates a GetEligibilityHandler.
func NewGetEligibilityHandler(facts *FactsLoader, engine *eligibility.Engine) *GetEligibilityHandler {
	return &GetEligibilityHandler{facts: facts, engine: engine}
}

// Handle executes the query.
func (h *GetEligibilityHandler) Handle(ctx context.Context, q GetEligibilityQuery) (*EligibilityDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f, err := h.facts.Load(ctx, q.UserID, q.StepID)
	if err != nil {
		return nil, err
	}
	v := h.engine.Evaluate(q.ExamType, f.Input)
	return &EligibilityDTO{
		UserID:       q.UserID,
		StepID:       q.StepID,
		AsOf:         timeutil.FormatDay(f.AsOf),
		Eligible:     v.Eligible,
		ExamType:     v.ExamType,
		Requirements: v.Requirements,
	}, nil
}
