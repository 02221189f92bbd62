package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultRuleSet(), Options{}, logger.NewNoOpLogger())
	require.NoError(t, err)
	return c
}

func afternoon() time.Time {
	return time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
}

func TestClassify_RuleMatch(t *testing.T) {
	c := newTestClassifier(t)

	res := c.Classify(models.Submission{
		ID:          "sub-1",
		Description: "unconscious, cardiac arrest",
		Category:    "heart-attack",
		ArrivedAt:   afternoon(),
	})

	assert.Equal(t, models.TierCritical, res.Tier)
	assert.Equal(t, models.MethodRuleMatch, res.Method)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "cardiac-unconscious", res.RuleID)
	assert.Equal(t, 5*time.Minute, res.MaxWait)
	assert.Equal(t, 1, res.Version)
}

func TestClassify_RulePriorityOrder(t *testing.T) {
	rs := models.RuleSet{Version: "t", Rules: []models.Rule{
		{ID: "b-low", Priority: 5, Tier: models.TierLow, Keywords: []string{"ankle"}, Active: true},
		{ID: "a-high", Priority: 5, Tier: models.TierHigh, Keywords: []string{"ankle"}, Active: true},
		{ID: "z-first", Priority: 1, Tier: models.TierModerate, Keywords: []string{"twisted"}, Active: true},
		{ID: "inactive", Priority: 0, Tier: models.TierCritical, Keywords: []string{"ankle"}, Active: false},
	}}
	c, err := NewClassifier(rs, Options{}, logger.NewNoOpLogger())
	require.NoError(t, err)

	res := c.Classify(models.Submission{ID: "s", Description: "twisted ankle"})
	assert.Equal(t, "z-first", res.RuleID)

	res = c.Classify(models.Submission{ID: "s", Description: "sore ankle"})
	assert.Equal(t, "a-high", res.RuleID, "equal priority breaks ties by id")
}

func TestClassify_KeywordMatchesWholeWordsOnly(t *testing.T) {
	c := newTestClassifier(t)

	res := c.Classify(models.Submission{ID: "s", Description: "Deep CUT on the hand", ArrivedAt: afternoon()})
	assert.Equal(t, models.TierModerate, res.Tier)
	assert.Equal(t, models.MethodRuleMatch, res.Method)
	assert.Equal(t, 0.7, res.Confidence)
	assert.Equal(t, "keyword:medium", res.RuleID)

	res = c.Classify(models.Submission{ID: "s", Description: "needs a haircut", Status: "stable", ArrivedAt: afternoon()})
	assert.Equal(t, models.MethodScoredFallback, res.Method)
}

func TestClassify_KeywordPriority(t *testing.T) {
	c := newTestClassifier(t)

	res := c.Classify(models.Submission{ID: "s", Description: "fever and now having a seizure, patient unresponsive"})
	assert.Equal(t, models.TierCritical, res.Tier)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "keyword:critical", res.RuleID)

	res = c.Classify(models.Submission{ID: "s", Description: "fever and chest pain"})
	assert.Equal(t, models.TierHigh, res.Tier)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestClassify_ScoredFallback(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name       string
		sub        models.Submission
		tier       models.Tier
		confidence float64
	}{
		{
			name: "empty description is neutral",
			sub:  models.Submission{ID: "s"},
			tier: models.TierModerate, confidence: 0.65,
		},
		{
			name: "high from status and transport",
			sub: models.Submission{ID: "s", Category: "accident", Status: "unconscious",
				AgeBracket: models.AgeAdult, TransportMode: models.TransportAmbulance, ArrivedAt: afternoon()},
			tier: models.TierHigh, confidence: 0.7,
		},
		{
			name: "critical with intensifiers overnight",
			sub: models.Submission{ID: "s", Description: "severe sudden collapsed", Category: "heart-attack",
				Status: "unconscious", AgeBracket: models.AgeSenior, TransportMode: models.TransportAmbulance,
				ArrivedAt: time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)},
			tier: models.TierCritical, confidence: 0.75,
		},
		{
			name: "low for a stable minor injury",
			sub: models.Submission{ID: "s", Category: "minor-injury", Status: "stable",
				AgeBracket: models.AgeAdult, TransportMode: models.TransportPrivate, ArrivedAt: afternoon()},
			tier: models.TierLow, confidence: 0.6,
		},
		{
			name: "unknown category is neutral not an error",
			sub:  models.Submission{ID: "s", Category: "alien-abduction"},
			tier: models.TierModerate, confidence: 0.65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.sub)
			assert.Equal(t, models.MethodScoredFallback, res.Method)
			assert.Equal(t, tt.tier, res.Tier)
			assert.Equal(t, tt.confidence, res.Confidence)
			assert.GreaterOrEqual(t, res.Score, 0.0)
			assert.LessOrEqual(t, res.Score, 10.0)
			assert.NotEmpty(t, res.Explanation)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := newTestClassifier(t)
	sub := models.Submission{
		ID: "s", Description: "severe pain", Category: "fall", Status: "conscious",
		AgeBracket: models.AgeSenior, TransportMode: models.TransportPrivate, ArrivedAt: afternoon(),
	}

	first := c.Classify(sub)
	for i := 0; i < 20; i++ {
		next := c.Classify(sub)
		next.CreatedAt = first.CreatedAt
		assert.Equal(t, first, next)
	}
}

func TestClassify_DegradedOnBrokenRuleTable(t *testing.T) {
	c := newTestClassifier(t)
	c.rules.Store(&compiledRules{version: "broken", rules: []compiledRule{
		{Rule: models.Rule{ID: "bad", Tier: models.TierUnknown, Active: true}},
	}})

	res := c.Classify(models.Submission{ID: "s", Status: "Unconscious", Category: "fall"})
	assert.Equal(t, models.MethodDegradedFallback, res.Method)
	assert.Equal(t, models.TierCritical, res.Tier)
	assert.Equal(t, 0.5, res.Confidence)
	assert.True(t, res.Degraded())

	res = c.Classify(models.Submission{ID: "s", Category: "violent"})
	assert.Equal(t, models.TierHigh, res.Tier)

	res = c.Classify(models.Submission{ID: "s"})
	assert.Equal(t, models.TierModerate, res.Tier)
}

func TestClassify_DegradedWithoutRules(t *testing.T) {
	c := &Classifier{
		weights:  DefaultWeights(),
		keywords: DefaultKeywordSets().normalized(),
		logger:   logger.NewNoOpLogger(),
		now:      time.Now,
	}

	res := c.Classify(models.Submission{ID: "s", Description: "cardiac arrest"})
	assert.Equal(t, models.MethodDegradedFallback, res.Method)
}

func TestOverride(t *testing.T) {
	c := newTestClassifier(t)
	prev := c.Classify(models.Submission{ID: "sub-9", Description: "sprain"})

	next, err := c.Override(prev, models.TierHigh, "nurse.brown", "visible deformity")
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, models.TierHigh, next.Tier)
	assert.Equal(t, models.MethodStaffOverride, next.Method)
	assert.Equal(t, "nurse.brown", next.Actor)
	assert.Equal(t, models.TierModerate, prev.Tier, "previous version is untouched")

	_, err = c.Override(prev, models.TierHigh, "", "x")
	assert.Error(t, err)
	_, err = c.Override(prev, models.TierUnknown, "a", "x")
	assert.Error(t, err)
}

func TestSetRules_RejectsInvalid(t *testing.T) {
	c := newTestClassifier(t)
	err := c.SetRules(models.RuleSet{Rules: []models.Rule{{ID: "x", Tier: models.TierHigh}}})
	assert.Error(t, err)
	assert.Equal(t, "builtin-1", c.RulesVersion())
}
