package queue

import (
	"hash/fnv"
	"math"
	"strings"
	"time"

	"emergency-admission/internal/models"
)

// Tier bases are 250 apart. The sum of every boost below stays under that
// gap so the priority score never contradicts the tier order.
var tierBase = map[models.Tier]float64{
	models.TierCritical: 1000,
	models.TierHigh:     750,
	models.TierModerate: 500,
	models.TierLow:      250,
}

var statusBoost = map[string]float64{
	"not-breathing": 40,
	"unconscious":   40,
	"unresponsive":  40,
	"bleeding":      30,
	"seizure":       30,
	"confused":      15,
	"in-pain":       10,
}

var categoryBoost = map[string]float64{
	"heart-attack": 40,
	"stroke":       40,
	"violent":      35,
	"burn":         25,
	"accident":     25,
	"respiratory":  25,
	"poisoning":    20,
	"maternity":    20,
}

var ageBoost = map[string]float64{
	models.AgeInfant: 20,
	models.AgeSenior: 15,
	models.AgeChild:  10,
}

const (
	ambulanceBoost   = 25.0
	maxTravelBoost   = 30.0
	maxFairnessBoost = 10.0
	jitterScale      = 0.01
)

// PriorityScore is the admission score shown to staff. Queue order is
// decided by tier and insertion sequence, never by this value.
func PriorityScore(sub models.Submission, tier models.Tier, travel time.Duration, now time.Time) float64 {
	score := tierBase[tier]
	score += statusBoost[strings.ToLower(strings.TrimSpace(sub.Status))]
	score += categoryBoost[strings.ToLower(strings.TrimSpace(sub.Category))]
	score += ageBoost[strings.ToLower(sub.AgeBracket)]
	if strings.EqualFold(sub.TransportMode, models.TransportAmbulance) {
		score += ambulanceBoost
	}
	score += travelBoost(travel)
	score += fairnessBoost(sub.ArrivedAt, now)
	score += Jitter(sub.ID)
	return math.Round(score*1e6) / 1e6
}

// travelBoost favours patients who will arrive soon.
func travelBoost(travel time.Duration) float64 {
	if travel <= 0 {
		return maxTravelBoost
	}
	return maxTravelBoost / (1 + travel.Minutes()/10)
}

// fairnessBoost grows half a point per minute already waited, capped.
func fairnessBoost(arrived, now time.Time) float64 {
	if arrived.IsZero() || now.Before(arrived) {
		return 0
	}
	return math.Min(now.Sub(arrived).Minutes()*0.5, maxFairnessBoost)
}

// Jitter is a deterministic value in [0, 0.01) derived from the id.
func Jitter(id string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return float64(h.Sum64()%10000) / 10000 * jitterScale
}
