package claimpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveGradeABoundary(t *testing.T) {
	effect := 0.5
	grade := DeriveGrade(GradeInputs{
		Confidence: 0.8,
		SampleSize: 30,
		Coverage:   0.7,
		EffectSize: &effect,
	})
	assert.Equal(t, GradeA, grade)
}

func TestDeriveGradeDefaultsToD(t *testing.T) {
	grade := DeriveGrade(GradeInputs{Confidence: 0.1, SampleSize: 1, Coverage: 0.1})
	assert.Equal(t, GradeD, grade)
}

func TestDeriveGradeBAndC(t *testing.T) {
	assert.Equal(t, GradeB, DeriveGrade(GradeInputs{Confidence: 0.6, SampleSize: 14, Coverage: 0.5}))
	assert.Equal(t, GradeC, DeriveGrade(GradeInputs{Confidence: 0.4, SampleSize: 7, Coverage: 0.3}))
}

func TestValidateRejectsDisallowedVerbForGradeD(t *testing.T) {
	ok, violations := Validate("this definitely improves your sleep", GradeD)
	assert.False(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateAcceptsCompliantGradeDPhrase(t *testing.T) {
	ok, violations := Validate("might suggest an uncertain association with sleep", GradeD)
	assert.True(t, ok, "violations: %v", violations)
}

func TestValidateGradeARequiresNoUncertainty(t *testing.T) {
	ok, _ := Validate("significantly improves sleep duration", GradeA)
	assert.True(t, ok)
}

func TestSuggestProducesValidatingPhrase(t *testing.T) {
	phrase := Suggest(GradeC, "sleep_duration", DirectionPositive)
	ok, violations := Validate(phrase, GradeC)
	assert.True(t, ok, "phrase %q had violations: %v", phrase, violations)
}

func TestIsActionAllowedHighRiskActionOnlyAtTopLevels(t *testing.T) {
	assert.True(t, IsActionAllowed(5, "suggest_experiment"))
	assert.False(t, IsActionAllowed(1, "suggest_experiment"))
}

func TestGradeForLevelMapping(t *testing.T) {
	assert.Equal(t, GradeA, GradeForLevel(5))
	assert.Equal(t, GradeA, GradeForLevel(4))
	assert.Equal(t, GradeB, GradeForLevel(3))
	assert.Equal(t, GradeC, GradeForLevel(2))
	assert.Equal(t, GradeD, GradeForLevel(1))
}
