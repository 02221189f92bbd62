package triage

import (
	"strings"
	"time"

	"emergency-admission/internal/models"
)

// KeywordSets are scanned in order critical, high, medium when no rule matches.
type KeywordSets struct {
	Critical []string `yaml:"critical"`
	High     []string `yaml:"high"`
	Medium   []string `yaml:"medium"`
}

func DefaultKeywordSets() KeywordSets {
	return KeywordSets{
		Critical: []string{
			"cardiac arrest", "not breathing", "unconscious", "unresponsive", "severe bleeding",
			"gunshot", "stab wound", "anaphylaxis", "choking", "stroke",
		},
		High: []string{
			"chest pain", "difficulty breathing", "shortness of breath", "seizure", "head injury",
			"fracture", "broken bone", "burn", "overdose", "heavy bleeding",
		},
		Medium: []string{
			"fever", "vomiting", "sprain", "cut", "laceration", "abdominal pain",
			"dizziness", "rash", "headache",
		},
	}
}

type keywordSet struct {
	name       string
	tier       models.Tier
	confidence float64
	words      []string
}

func (k KeywordSets) normalized() KeywordSets {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, w := range in {
			if strings.TrimSpace(w) != "" {
				out = append(out, normalize(w))
			}
		}
		return out
	}
	return KeywordSets{Critical: norm(k.Critical), High: norm(k.High), Medium: norm(k.Medium)}
}

func (k KeywordSets) ordered() []keywordSet {
	return []keywordSet{
		{name: "critical", tier: models.TierCritical, confidence: 0.9, words: k.Critical},
		{name: "high", tier: models.TierHigh, confidence: 0.8, words: k.High},
		{name: "medium", tier: models.TierModerate, confidence: 0.7, words: k.Medium},
	}
}

const neutral = 5.0

var categorySeverityTable = map[string]float64{
	"heart-attack": 9,
	"stroke":       9,
	"violent":      8,
	"burn":         7,
	"accident":     7,
	"respiratory":  7,
	"poisoning":    6,
	"maternity":    6,
	"fall":         4,
	"illness":      4,
	"minor-injury": 2,
}

var statusSeverityTable = map[string]float64{
	"not-breathing": 10,
	"unconscious":   10,
	"unresponsive":  10,
	"bleeding":      8,
	"seizure":       8,
	"confused":      6,
	"in-pain":       5,
	"conscious":     3,
	"stable":        2,
}

var criticalStatuses = map[string]bool{
	"not-breathing": true,
	"unconscious":   true,
	"unresponsive":  true,
}

var ageRiskTable = map[string]float64{
	models.AgeInfant: 8,
	models.AgeSenior: 7,
	models.AgeChild:  6,
	models.AgeAdult:  4,
}

var transportUrgencyTable = map[string]float64{
	models.TransportAmbulance: 8,
	models.TransportPrivate:   5,
	models.TransportWalkIn:    3,
}

// intensifiers raise text urgency above neutral; each distinct hit adds 1.5.
var intensifiers = []string{
	"severe", "heavy", "intense", "extreme", "sudden", "worsening", "rapid",
	"excruciating", "profuse", "collapsed", "blood",
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

func lookup(table map[string]float64, key string) float64 {
	if v, ok := table[lower(key)]; ok {
		return v
	}
	return neutral
}

// categorySeverity defaults unknown categories to neutral rather than failing.
func categorySeverity(category string) float64 { return lookup(categorySeverityTable, category) }

func statusSeverity(status string) float64 { return lookup(statusSeverityTable, status) }

func ageRisk(bracket string) float64 { return lookup(ageRiskTable, bracket) }

func transportUrgency(mode string) float64 { return lookup(transportUrgencyTable, mode) }

// timeOfDayRisk is higher overnight when staffing is thinnest.
func timeOfDayRisk(at time.Time) float64 {
	if at.IsZero() {
		return neutral
	}
	switch h := at.Hour(); {
	case h < 6:
		return 7
	case h >= 22:
		return 6
	default:
		return 4
	}
}

// textUrgency is neutral for empty text.
func textUrgency(normalizedText string) float64 {
	if strings.TrimSpace(normalizedText) == "" {
		return neutral
	}
	score := neutral
	for _, w := range intensifiers {
		if strings.Contains(normalizedText, " "+w+" ") {
			score += 1.5
		}
	}
	return clamp(score, 0, 10)
}
