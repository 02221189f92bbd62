package triage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

const sampleRules = `
version: "2026-03"
rules:
  - id: stroke-signs
    priority: 10
    tier: critical
    keywords: [face drooping, slurred speech]
  - id: senior-fall
    priority: 20
    tier: high
    category: fall
    age_bracket: senior
  - id: retired
    priority: 30
    tier: low
    keywords: [hiccups]
    active: false
`

func TestParseRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(sampleRules))
	require.NoError(t, err)

	assert.Equal(t, "2026-03", rs.Version)
	require.Len(t, rs.Rules, 3)
	assert.Equal(t, models.TierCritical, rs.Rules[0].Tier)
	assert.True(t, rs.Rules[0].Active)
	assert.Equal(t, models.AgeSenior, rs.Rules[1].AgeBracket)
	assert.False(t, rs.Rules[2].Active)
}

func TestLoadRuleSetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	rs, err := LoadRuleSetFile(path)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 3)

	_, err = LoadRuleSetFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRuleSet(t *testing.T) {
	tests := []struct {
		name    string
		rules   []models.Rule
		wantErr string
	}{
		{"missing id", []models.Rule{{Tier: models.TierLow, Keywords: []string{"x"}}}, "id is required"},
		{"duplicate id", []models.Rule{
			{ID: "a", Tier: models.TierLow, Keywords: []string{"x"}},
			{ID: "a", Tier: models.TierLow, Keywords: []string{"y"}},
		}, "duplicate id"},
		{"bad tier", []models.Rule{{ID: "a", Keywords: []string{"x"}}}, "invalid tier"},
		{"unconstrained", []models.Rule{{ID: "a", Tier: models.TierLow}}, "matches every submission"},
		{"blank keyword", []models.Rule{{ID: "a", Tier: models.TierLow, Keywords: []string{" "}}}, "empty keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRuleSet(models.RuleSet{Rules: tt.rules})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, ValidateRuleSet(DefaultRuleSet()))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, " unconscious cardiac arrest ", normalize("Unconscious,  cardiac-arrest!"))
	assert.Equal(t, " ", normalize(""))
	assert.True(t, containsPhrase(normalize("He can't breathe, chest pain"), normalize("chest pain")))
	assert.False(t, containsPhrase(normalize("haircut"), normalize("cut")))
}

func TestShippedRuleFile(t *testing.T) {
	rs, err := LoadRuleSetFile(filepath.Join("..", "..", "configs", "triage_rules.yaml"))
	require.NoError(t, err)

	c, err := NewClassifier(rs, Options{}, logger.NewNoOpLogger())
	require.NoError(t, err)

	res := c.Classify(models.Submission{
		ID:          "shipped-1",
		Description: "unconscious, cardiac arrest",
		Category:    "heart-attack",
	})
	assert.Equal(t, models.TierCritical, res.Tier)
	assert.Equal(t, models.MethodRuleMatch, res.Method)
	assert.Equal(t, "cardiac-unconscious", res.RuleID)
}
