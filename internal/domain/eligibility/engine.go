// Package eligibility decides whether a participant may attempt a degree or
// belt exam. The engine is pure: it evaluates facts assembled by the caller
// and never touches storage.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

// Requirement labels.
const (
	LabelStepBelt       = "step matches current belt"
	LabelCompletionRate = "curriculum completion"
	LabelRecentCheckins = "recent check-ins"
	LabelDegreeBelowMax = "degree below maximum"
	LabelRequiredItems  = "required items done"
	LabelCertifications = "certifications"
	LabelMaxDegree      = "maximum degree reached"
	LabelNextBelt       = "higher belt exists"
)

// Rules holds the thresholds. Values come from configuration.
type Rules struct {
	MinCompletionRate float64
	MinRecentCheckins int
	RecentWindowDays  int
}

// DefaultRules returns 25% completion and 7 check-ins in 14 days.
func DefaultRules() Rules {
	return Rules{MinCompletionRate: 0.25, MinRecentCheckins: 7, RecentWindowDays: 14}
}

// Facts is the input of an evaluation.
type Facts struct {
	Rank           belt.Rank
	StepBelt       belt.Belt
	Summary        progress.StepSummary
	RequiredCerts  int
	RecentCheckins int
}

// Requirement is one evaluated condition.
type Requirement struct {
	Label     string `json:"label"`
	Satisfied bool   `json:"satisfied"`
	Value     string `json:"value"`
}

// Verdict lists every requirement; Eligible is their conjunction.
type Verdict struct {
	Eligible     bool          `json:"eligible"`
	ExamType     exam.Type     `json:"exam_type"`
	Requirements []Requirement `json:"requirements"`
}

// Unmet returns the requirements that failed.
func (v Verdict) Unmet() []Requirement {
	var out []Requirement
	for _, r := range v.Requirements {
		if !r.Satisfied {
			out = append(out, r)
		}
	}
	return out
}

// Engine evaluates Facts against Rules.
type Engine struct {
	rules Rules
}

// NewEngine creates an engine. Non-positive window values fall back to the
// defaults.
func NewEngine(rules Rules) *Engine {
	def := DefaultRules()
	if rules.RecentWindowDays <= 0 {
		rules.RecentWindowDays = def.RecentWindowDays
	}
	return &Engine{rules: rules}
}

// Rules returns the active thresholds.
func (e *Engine) Rules() Rules { return e.rules }

// Evaluate dispatches on the exam type.
func (e *Engine) Evaluate(t exam.Type, f Facts) Verdict {
	if t == exam.TypeBelt {
		return e.CanChangeBelt(f)
	}
	return e.CanGainDegree(f)
}

// CanGainDegree requires the completion rate, recent check-ins and a degree
// below the maximum.
func (e *Engine) CanGainDegree(f Facts) Verdict {
	reqs := []Requirement{
		stepBelt(f),
		{
			Label:     LabelCompletionRate,
			Satisfied: atLeast(f.Summary.DoneItems, f.Summary.TotalItems, e.rules.MinCompletionRate),
			Value:     fmt.Sprintf("%d/%d (%.0f%% of %.0f%%)", f.Summary.DoneItems, f.Summary.TotalItems, f.Summary.CompletionRate()*100, e.rules.MinCompletionRate*100),
		},
		{
			Label:     LabelRecentCheckins,
			Satisfied: f.RecentCheckins >= e.rules.MinRecentCheckins,
			Value:     fmt.Sprintf("%d/%d in %d days", f.RecentCheckins, e.rules.MinRecentCheckins, e.rules.RecentWindowDays),
		},
		{
			Label:     LabelDegreeBelowMax,
			Satisfied: !f.Rank.Degree.IsMax(),
			Value:     fmt.Sprintf("%d/%d", f.Rank.Degree, belt.MaxDegree),
		},
	}
	return verdict(exam.TypeDegree, reqs)
}

// CanChangeBelt requires all required items, the certification count and
// the maximum degree.
func (e *Engine) CanChangeBelt(f Facts) Verdict {
	_, hasNext := f.Rank.Belt.Next()
	reqs := []Requirement{
		stepBelt(f),
		{
			Label:     LabelRequiredItems,
			Satisfied: f.Summary.RequiredComplete(),
			Value:     fmt.Sprintf("%d/%d", f.Summary.RequiredDone, f.Summary.RequiredItems),
		},
		{
			Label:     LabelCertifications,
			Satisfied: f.Summary.CertsDone >= f.RequiredCerts,
			Value:     fmt.Sprintf("%d/%d", f.Summary.CertsDone, f.RequiredCerts),
		},
		{
			Label:     LabelMaxDegree,
			Satisfied: f.Rank.Degree == belt.MaxDegree,
			Value:     fmt.Sprintf("%d/%d", f.Rank.Degree, belt.MaxDegree),
		},
		{
			Label:     LabelNextBelt,
			Satisfied: hasNext,
			Value:     string(f.Rank.Belt),
		},
	}
	return verdict(exam.TypeBelt, reqs)
}

func stepBelt(f Facts) Requirement {
	return Requirement{
		Label:     LabelStepBelt,
		Satisfied: f.StepBelt == f.Rank.Belt,
		Value:     fmt.Sprintf("step %s, user %s", f.StepBelt, f.Rank.Belt),
	}
}

func verdict(t exam.Type, reqs []Requirement) Verdict {
	ok := true
	for _, r := range reqs {
		ok = ok && r.Satisfied
	}
	return Verdict{Eligible: ok, ExamType: t, Requirements: reqs}
}

// atLeast reports done/total >= rate, with a small tolerance so that exact
// ratios such as 3/12 against 0.25 are not lost to rounding.
func atLeast(done, total int, rate float64) bool {
	if total == 0 {
		return rate <= 0
	}
	return float64(done)+1e-9 >= rate*float64(total)
}

// DeniedError carries the verdict of a failed gate.
type DeniedError struct {
	Verdict Verdict
}

func (e *DeniedError) Error() string {
	labels := make([]string, 0, len(e.Verdict.Requirements))
	for _, r := range e.Verdict.Unmet() {
		labels = append(labels, r.Label)
	}
	return fmt.Sprintf("not eligible for %s exam: %s", e.Verdict.ExamType, strings.Join(labels, ", "))
}

func (e *DeniedError) Unwrap() error { return shared.ErrNotEligible }

// Deny wraps a failed verdict as an error matching shared.ErrNotEligible.
func Deny(v Verdict) error {
	return &DeniedError{Verdict: v}
}
