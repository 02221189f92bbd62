package triage

import (
	"fmt"
	"sync/atomic"
	"time"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

// Feature names used as weight keys.
const (
	FeatureCategory  = "category"
	FeatureStatus    = "status"
	FeatureAge       = "age"
	FeatureTransport = "transport"
	FeatureTimeOfDay = "time_of_day"
	FeatureText      = "text"
)

var featureOrder = []string{FeatureCategory, FeatureStatus, FeatureAge, FeatureTransport, FeatureTimeOfDay, FeatureText}

// Score thresholds for the scored fallback.
const (
	ThresholdCritical = 8.5
	ThresholdHigh     = 6.5
	ThresholdModerate = 4.0
)

// Options configure a Classifier. Zero values fall back to built-in defaults.
type Options struct {
	Weights  map[string]float64
	MaxWait  map[string]int
	Keywords *KeywordSets
}

// Classifier maps a submission to an urgency tier. It only reads in-memory
// state; the rule table is swapped atomically by SetRules.
type Classifier struct {
	rules    atomic.Pointer[compiledRules]
	weights  map[string]float64
	maxWait  map[string]int
	keywords KeywordSets
	logger   logger.Logger
	now      func() time.Time
}

func NewClassifier(rules models.RuleSet, opts Options, log logger.Logger) (*Classifier, error) {
	c := &Classifier{
		weights:  opts.Weights,
		maxWait:  opts.MaxWait,
		keywords: DefaultKeywordSets(),
		logger:   log.WithFields(map[string]interface{}{"component": "triage"}),
		now:      time.Now,
	}
	if len(c.weights) == 0 {
		c.weights = DefaultWeights()
	}
	if opts.Keywords != nil {
		c.keywords = opts.Keywords.normalized()
	} else {
		c.keywords = c.keywords.normalized()
	}
	if err := c.SetRules(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultWeights are the scored-fallback weights; they sum to 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FeatureCategory:  0.30,
		FeatureStatus:    0.25,
		FeatureAge:       0.10,
		FeatureTransport: 0.10,
		FeatureTimeOfDay: 0.05,
		FeatureText:      0.20,
	}
}

// SetRules validates and installs a new rule table.
func (c *Classifier) SetRules(rs models.RuleSet) error {
	if err := ValidateRuleSet(rs); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	c.rules.Store(compile(rs))
	c.logger.Info("triage rules installed", map[string]interface{}{
		"version": rs.Version,
		"rules":   len(rs.Rules),
	})
	return nil
}

// RulesVersion returns the version of the installed rule table.
func (c *Classifier) RulesVersion() string {
	if r := c.rules.Load(); r != nil {
		return r.version
	}
	return ""
}

// Classify never fails. Identical submissions yield identical results apart
// from CreatedAt.
func (c *Classifier) Classify(sub models.Submission) (result models.TriageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = c.degraded(sub, fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := c.classify(sub)
	if err != nil {
		return c.degraded(sub, err)
	}
	return res
}

func (c *Classifier) classify(sub models.Submission) (models.TriageResult, error) {
	text := normalize(sub.Description)

	if res, ok, err := c.matchRules(sub, text); err != nil || ok {
		return res, err
	}
	if res, ok := c.matchKeywords(sub, text); ok {
		return res, nil
	}
	return c.scored(sub, text), nil
}

func (c *Classifier) matchRules(sub models.Submission, text string) (models.TriageResult, bool, error) {
	compiled := c.rules.Load()
	if compiled == nil {
		return models.TriageResult{}, false, fmt.Errorf("no rule table installed")
	}
	for _, r := range compiled.rules {
		if !r.matches(sub, text) {
			continue
		}
		if !r.Tier.Valid() {
			return models.TriageResult{}, false, fmt.Errorf("rule %s has invalid tier", r.ID)
		}
		explanation := []string{fmt.Sprintf("matched rule %s", r.ID)}
		if r.Explanation != "" {
			explanation = append(explanation, r.Explanation)
		}
		return c.result(sub, r.Tier, 1.0, models.MethodRuleMatch, explanation, r.ID, 0), true, nil
	}
	return models.TriageResult{}, false, nil
}

func (c *Classifier) matchKeywords(sub models.Submission, text string) (models.TriageResult, bool) {
	for _, set := range c.keywords.ordered() {
		for _, kw := range set.words {
			if containsPhrase(text, kw) {
				explanation := []string{fmt.Sprintf("%s keyword %q in description", set.name, trimmed(kw))}
				return c.result(sub, set.tier, set.confidence, models.MethodRuleMatch, explanation, "keyword:"+set.name, 0), true
			}
		}
	}
	return models.TriageResult{}, false
}

func (c *Classifier) scored(sub models.Submission, text string) models.TriageResult {
	features := map[string]float64{
		FeatureCategory:  categorySeverity(sub.Category),
		FeatureStatus:    statusSeverity(sub.Status),
		FeatureAge:       ageRisk(sub.AgeBracket),
		FeatureTransport: transportUrgency(sub.TransportMode),
		FeatureTimeOfDay: timeOfDayRisk(sub.ArrivedAt),
		FeatureText:      textUrgency(text),
	}

	var score float64
	explanation := make([]string, 0, len(featureOrder)+1)
	for _, name := range featureOrder {
		w := c.weights[name]
		score += w * features[name]
		explanation = append(explanation, fmt.Sprintf("%s %.1f x %.2f", name, features[name], w))
	}
	score = clamp(score, 0, 10)

	tier, confidence := tierForScore(score)
	explanation = append(explanation, fmt.Sprintf("score %.2f maps to %s", score, tier))
	return c.result(sub, tier, confidence, models.MethodScoredFallback, explanation, "", score)
}

// degraded uses only status and category; it must not fail.
func (c *Classifier) degraded(sub models.Submission, cause error) models.TriageResult {
	tier := models.TierModerate
	switch {
	case criticalStatuses[lower(sub.Status)]:
		tier = models.TierCritical
	case categorySeverity(sub.Category) >= 8:
		tier = models.TierHigh
	}

	c.logger.Warn("classification degraded", map[string]interface{}{
		"submissionId": sub.ID,
		"error":        cause.Error(),
		"tier":         tier.String(),
	})

	return models.TriageResult{
		SubmissionID: sub.ID,
		Version:      1,
		Tier:         tier,
		Confidence:   0.5,
		Method:       models.MethodDegradedFallback,
		Explanation: []string{
			apperrors.NewClassificationDegradedError(cause.Error()).Message,
			fmt.Sprintf("status %q, category %q", sub.Status, sub.Category),
		},
		MaxWait:   tier.MaxWait(c.maxWait),
		CreatedAt: c.now().UTC(),
	}
}

func (c *Classifier) result(sub models.Submission, tier models.Tier, confidence float64, method string, explanation []string, ruleID string, score float64) models.TriageResult {
	return models.TriageResult{
		SubmissionID: sub.ID,
		Version:      1,
		Tier:         tier,
		Confidence:   confidence,
		Method:       method,
		Explanation:  explanation,
		MaxWait:      tier.MaxWait(c.maxWait),
		RuleID:       ruleID,
		Score:        score,
		CreatedAt:    c.now().UTC(),
	}
}

// Override supersedes prev with a staff decision as a new version.
func (c *Classifier) Override(prev models.TriageResult, tier models.Tier, actor, reason string) (models.TriageResult, error) {
	if !tier.Valid() {
		return models.TriageResult{}, apperrors.NewValidationError("override tier is invalid")
	}
	if actor == "" {
		return models.TriageResult{}, apperrors.NewValidationError("override requires an actor")
	}
	if reason == "" {
		return models.TriageResult{}, apperrors.NewValidationError("override requires a reason")
	}

	next := models.TriageResult{
		SubmissionID: prev.SubmissionID,
		Version:      prev.Version + 1,
		Tier:         tier,
		Confidence:   1.0,
		Method:       models.MethodStaffOverride,
		Explanation:  []string{fmt.Sprintf("overridden from %s by %s: %s", prev.Tier, actor, reason)},
		MaxWait:      tier.MaxWait(c.maxWait),
		Actor:        actor,
		Reason:       reason,
		CreatedAt:    c.now().UTC(),
	}

	c.logger.Info("triage overridden", map[string]interface{}{
		"submissionId": prev.SubmissionID,
		"fromTier":     prev.Tier.String(),
		"toTier":       tier.String(),
		"version":      next.Version,
		"actor":        actor,
		"reason":       reason,
	})
	return next, nil
}

func tierForScore(score float64) (models.Tier, float64) {
	switch {
	case score >= ThresholdCritical:
		return models.TierCritical, 0.75
	case score >= ThresholdHigh:
		return models.TierHigh, 0.7
	case score >= ThresholdModerate:
		return models.TierModerate, 0.65
	default:
		return models.TierLow, 0.6
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
