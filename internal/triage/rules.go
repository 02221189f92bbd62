package triage

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"emergency-admission/internal/models"
)

// DefaultRuleSet is the built-in rule table used when no rule file or
// database rules are available.
func DefaultRuleSet() models.RuleSet {
	return models.RuleSet{
		Version: "builtin-1",
		Rules: []models.Rule{
			{
				ID: "cardiac-unconscious", Priority: 10, Tier: models.TierCritical,
				Category: "heart-attack", Keywords: []string{"unconscious"},
				Explanation: "suspected cardiac event with loss of consciousness", Active: true,
			},
			{
				ID: "cardiac-arrest", Priority: 20, Tier: models.TierCritical,
				Keywords:    []string{"cardiac arrest"},
				Explanation: "cardiac arrest reported", Active: true,
			},
			{
				ID: "not-breathing", Priority: 30, Tier: models.TierCritical,
				Status:      "not-breathing",
				Explanation: "patient not breathing", Active: true,
			},
			{
				ID: "violent-bleeding", Priority: 40, Tier: models.TierCritical,
				Category: "violent", Keywords: []string{"bleeding"},
				Explanation: "violent incident with active bleeding", Active: true,
			},
			{
				ID: "infant-fever", Priority: 50, Tier: models.TierHigh,
				AgeBracket: models.AgeInfant, Keywords: []string{"fever"},
				Explanation: "fever in an infant", Active: true,
			},
			{
				ID: "walk-in-minor", Priority: 90, Tier: models.TierLow,
				Category: "minor-injury", TransportMode: models.TransportWalkIn,
				Explanation: "minor injury arriving on foot", Active: true,
			},
		},
	}
}

// ValidateRuleSet checks ids are unique, tiers are valid and every rule
// constrains at least one field.
func ValidateRuleSet(rs models.RuleSet) error {
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if !r.Tier.Valid() {
			return fmt.Errorf("rule %s: invalid tier", r.ID)
		}
		if r.Category == "" && r.Status == "" && r.AgeBracket == "" && r.TransportMode == "" && len(r.Keywords) == 0 {
			return fmt.Errorf("rule %s: matches every submission", r.ID)
		}
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("rule %s: empty keyword", r.ID)
			}
		}
	}
	return nil
}

// LoadRuleSetFile reads a YAML rule table.
func LoadRuleSetFile(path string) (models.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RuleSet{}, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a YAML rule table. Rules default to active unless
// the document sets active: false.
func ParseRuleSet(data []byte) (models.RuleSet, error) {
	var doc struct {
		Version string        `yaml:"version"`
		Rules   []models.Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	var flags struct {
		Rules []struct {
			Active *bool `yaml:"active"`
		} `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return models.RuleSet{}, fmt.Errorf("parse rule file: %w", err)
	}

	rs := models.RuleSet{Version: doc.Version, Rules: doc.Rules}
	for i := range rs.Rules {
		active := flags.Rules[i].Active
		rs.Rules[i].Active = active == nil || *active
	}
	if err := ValidateRuleSet(rs); err != nil {
		return models.RuleSet{}, err
	}
	return rs, nil
}

type compiledRule struct {
	models.Rule
	keywords []string
}

type compiledRules struct {
	version string
	rules   []compiledRule
}

// compile drops inactive rules, normalizes keywords and sorts by
// priority then id so evaluation order is stable.
func compile(rs models.RuleSet) *compiledRules {
	out := &compiledRules{version: rs.Version}
	for _, r := range rs.Rules {
		if !r.Active {
			continue
		}
		cr := compiledRule{Rule: r}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, normalize(kw))
		}
		out.rules = append(out.rules, cr)
	}
	sort.SliceStable(out.rules, func(i, j int) bool {
		if out.rules[i].Priority != out.rules[j].Priority {
			return out.rules[i].Priority < out.rules[j].Priority
		}
		return out.rules[i].ID < out.rules[j].ID
	})
	return out
}

func (r compiledRule) matches(sub models.Submission, text string) bool {
	if !fieldMatches(r.Category, sub.Category) ||
		!fieldMatches(r.Status, sub.Status) ||
		!fieldMatches(r.AgeBracket, sub.AgeBracket) ||
		!fieldMatches(r.TransportMode, sub.TransportMode) {
		return false
	}
	for _, kw := range r.keywords {
		if !containsPhrase(text, kw) {
			return false
		}
	}
	return true
}

func fieldMatches(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}

// normalize lowercases text and collapses everything that is not a letter
// or digit to single spaces, padded at both ends for phrase matching.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// containsPhrase matches whole words only; both arguments must be normalized.
func containsPhrase(text, phrase string) bool {
	if strings.TrimSpace(phrase) == "" {
		return false
	}
	return strings.Contains(text, phrase)
}
