package eligibility

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

func requirement(t *testing.T, v Verdict, label string) Requirement {
	t.Helper()
	for _, r := range v.Requirements {
		if r.Label == label {
			return r
		}
	}
	require.Failf(t, "missing requirement", "label %q", label)
	return Requirement{}
}

func degreeFacts(done, recent int) Facts {
	return Facts{
		Rank:           belt.Rank{Belt: belt.Blue, Degree: 2},
		StepBelt:       belt.Blue,
		Summary:        progress.StepSummary{TotalItems: 12, DoneItems: done},
		RecentCheckins: recent,
	}
}

func TestDegreeGateAtExactThreshold(t *testing.T) {
	e := NewEngine(DefaultRules())
	v := e.CanGainDegree(degreeFacts(3, 8))

	assert.True(t, v.Eligible)
	assert.Equal(t, exam.TypeDegree, v.ExamType)
	assert.Empty(t, v.Unmet())
}

func TestDegreeGateBelowCompletion(t *testing.T) {
	e := NewEngine(DefaultRules())
	v := e.CanGainDegree(degreeFacts(2, 8))

	assert.False(t, v.Eligible)
	unmet := v.Unmet()
	require.Len(t, unmet, 1)
	assert.Equal(t, LabelCompletionRate, unmet[0].Label)
	assert.Contains(t, unmet[0].Value, "2/12")
}

func TestDegreeGateNeedsRecentCheckins(t *testing.T) {
	e := NewEngine(DefaultRules())
	v := e.CanGainDegree(degreeFacts(6, 6))
	assert.False(t, v.Eligible)
	assert.False(t, requirement(t, v, LabelRecentCheckins).Satisfied)
}

func TestDegreeGateClosedAtMaxDegree(t *testing.T) {
	e := NewEngine(DefaultRules())
	f := degreeFacts(12, 14)
	f.Rank.Degree = belt.MaxDegree

	v := e.CanGainDegree(f)
	assert.False(t, v.Eligible)
	assert.False(t, requirement(t, v, LabelDegreeBelowMax).Satisfied)
}

func TestGateRequiresMatchingStep(t *testing.T) {
	e := NewEngine(DefaultRules())
	f := degreeFacts(12, 14)
	f.StepBelt = belt.Purple

	v := e.CanGainDegree(f)
	assert.False(t, v.Eligible)
	assert.False(t, requirement(t, v, LabelStepBelt).Satisfied)
}

func beltFacts(certs int) Facts {
	return Facts{
		Rank:     belt.Rank{Belt: belt.Brown, Degree: 4},
		StepBelt: belt.Brown,
		Summary: progress.StepSummary{
			TotalItems: 10, DoneItems: 6,
			RequiredItems: 5, RequiredDone: 5,
			CertsDone: certs,
		},
		RequiredCerts: 3,
	}
}

func TestBeltGateMissingCertification(t *testing.T) {
	e := NewEngine(DefaultRules())
	v := e.CanChangeBelt(beltFacts(2))

	assert.False(t, v.Eligible)
	cert := requirement(t, v, LabelCertifications)
	assert.False(t, cert.Satisfied)
	assert.Equal(t, "2/3", cert.Value)
	assert.True(t, requirement(t, v, LabelRequiredItems).Satisfied)
	assert.True(t, requirement(t, v, LabelMaxDegree).Satisfied)
}

func TestBeltGateOpen(t *testing.T) {
	e := NewEngine(DefaultRules())
	v := e.Evaluate(exam.TypeBelt, beltFacts(3))
	assert.True(t, v.Eligible)
	assert.Equal(t, exam.TypeBelt, v.ExamType)
}

func TestBeltGateNeedsMaxDegreeAndNextBelt(t *testing.T) {
	e := NewEngine(DefaultRules())

	f := beltFacts(3)
	f.Rank.Degree = 3
	assert.False(t, e.CanChangeBelt(f).Eligible)

	f = beltFacts(3)
	f.Rank.Belt, f.StepBelt = belt.Black, belt.Black
	v := e.CanChangeBelt(f)
	assert.False(t, v.Eligible)
	assert.False(t, requirement(t, v, LabelNextBelt).Satisfied)
}

func TestConfigurableThresholds(t *testing.T) {
	e := NewEngine(Rules{MinCompletionRate: 0.5, MinRecentCheckins: 3, RecentWindowDays: 7})
	assert.False(t, e.CanGainDegree(degreeFacts(5, 3)).Eligible)
	assert.True(t, e.CanGainDegree(degreeFacts(6, 3)).Eligible)
	assert.Equal(t, 7, e.Rules().RecentWindowDays)
}

func TestDeniedError(t *testing.T) {
	e := NewEngine(DefaultRules())
	err := Deny(e.CanGainDegree(degreeFacts(0, 0)))

	assert.ErrorIs(t, err, shared.ErrNotEligible)
	assert.True(t, shared.IsEligibilityDenied(err))

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Len(t, denied.Verdict.Unmet(), 2)
	assert.Contains(t, err.Error(), LabelCompletionRate)
}
