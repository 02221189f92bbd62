// internal/models/triage.go
package models

import "time"

// Classification methods
const (
	MethodRuleMatch        = "rule-match"
	MethodScoredFallback   = "scored-fallback"
	MethodDegradedFallback = "degraded-fallback"
	MethodStaffOverride    = "staff-override"
)

// TriageResult is one version of a submission's classification. A staff
// override appends a new version; versions are never edited in place.
type TriageResult struct {
	SubmissionID string        `json:"submissionId"`
	Version      int           `json:"version"`
	Tier         Tier          `json:"tier"`
	Confidence   float64       `json:"confidence"`
	Method       string        `json:"method"`
	Explanation  []string      `json:"explanation"`
	MaxWait      time.Duration `json:"maxWait"`
	RuleID       string        `json:"ruleId,omitempty"`
	Score        float64       `json:"score,omitempty"`
	Actor        string        `json:"actor,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Degraded reports whether the result came from the last-resort path.
func (r TriageResult) Degraded() bool {
	return r.Method == MethodDegradedFallback
}

// Rule is one deterministic triage rule: a conjunction of field equality
// and keyword containment. Empty fields are not constrained.
type Rule struct {
	ID            string   `json:"id" yaml:"id"`
	Priority      int      `json:"priority" yaml:"priority"`
	Tier          Tier     `json:"tier" yaml:"tier"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
	Status        string   `json:"status,omitempty" yaml:"status,omitempty"`
	AgeBracket    string   `json:"ageBracket,omitempty" yaml:"age_bracket,omitempty"`
	TransportMode string   `json:"transportMode,omitempty" yaml:"transport_mode,omitempty"`
	Keywords      []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Active        bool     `json:"active" yaml:"-"`
}

// RuleSet is a versioned rule table.
type RuleSet struct {
	Version string `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}
