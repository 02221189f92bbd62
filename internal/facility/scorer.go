package facility

import (
	"math"
	"sort"
	"strings"
	"time"

	"emergency-admission/internal/common/config"
	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

// Score components, in the order they are added to the base.
const (
	TermDistance    = "distance"
	TermTravelTime  = "travel_time"
	TermSpecialty   = "specialty"
	TermCapacity    = "capacity"
	TermAgeAffinity = "age_affinity"
	TermRegional    = "regional"

	baseScore          = 100.0
	maxDistancePenalty = 30.0
	maxTravelPenalty   = 25.0
	specialtyWeight    = 20.0
	criticalICUBonus   = 15.0
	ageAffinityBonus   = 8.0
	defaultSpeedKMH    = 40.0
)

// termOrder fixes summation order so scores are bit-for-bit reproducible.
var termOrder = []string{TermDistance, TermTravelTime, TermSpecialty, TermCapacity, TermAgeAffinity, TermRegional}

// Source supplies the facilities to rank.
type Source interface {
	Active() []models.FacilityRecord
}

// ScorerConfig is the data-driven part of the scoring function.
type ScorerConfig struct {
	MaxDistanceKM       float64
	MaxTravelMinutes    float64
	Speeds              map[string]float64
	CategorySpecialties map[string][]string
	SameLocalityBonus   float64
	Regions             []config.Region
}

// ScorerConfigFrom adapts the loaded scoring section.
func ScorerConfigFrom(c config.ScoringConfig) ScorerConfig {
	return ScorerConfig{
		MaxDistanceKM:       c.MaxDistanceKM,
		MaxTravelMinutes:    c.MaxTravelMinutes,
		Speeds:              c.Speeds,
		CategorySpecialties: c.CategorySpecialties,
		SameLocalityBonus:   c.SameLocalityBonus,
		Regions:             c.Regions,
	}
}

type Scorer struct {
	source Source
	cfg    ScorerConfig
	logger logger.Logger
}

func NewScorer(source Source, cfg ScorerConfig, log logger.Logger) *Scorer {
	if cfg.MaxDistanceKM <= 0 {
		cfg.MaxDistanceKM = 100
	}
	if cfg.MaxTravelMinutes <= 0 {
		cfg.MaxTravelMinutes = 90
	}
	if cfg.Speeds == nil {
		cfg.Speeds = map[string]float64{}
	}
	if cfg.CategorySpecialties == nil {
		cfg.CategorySpecialties = config.DefaultCategorySpecialties()
	}
	return &Scorer{
		source: source,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "facility-scorer"}),
	}
}

// Rank orders active facilities for a submission, largest score first with
// ties broken by id. Without a coordinate the order is by id and every
// entry is flagged location unknown.
func (s *Scorer) Rank(sub models.Submission, tier models.Tier) ([]models.RankedFacility, error) {
	active := s.source.Active()
	if len(active) == 0 {
		return nil, apperrors.NewNoFacilityAvailableError("directory has no active facilities")
	}

	ranked := make([]models.RankedFacility, 0, len(active))
	for _, f := range active {
		ranked = append(ranked, s.Evaluate(sub, tier, f))
	}

	if sub.Location == nil {
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Facility.ID < ranked[j].Facility.ID })
	} else {
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].Facility.ID < ranked[j].Facility.ID
		})
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	s.logger.Debug("facilities ranked", map[string]interface{}{
		"submissionId":   sub.ID,
		"tier":           tier.String(),
		"candidates":     len(ranked),
		"top":            ranked[0].Facility.ID,
		"locationStatus": ranked[0].LocationStatus,
	})
	return ranked, nil
}

// Evaluate scores a single facility. It is also used for staff-forced
// assignments so they carry the same distance and travel estimate.
func (s *Scorer) Evaluate(sub models.Submission, tier models.Tier, f models.FacilityRecord) models.RankedFacility {
	rf := models.RankedFacility{
		Facility:       f,
		LocationStatus: models.LocationUnknown,
		Breakdown:      make(map[string]float64, 6),
	}

	if sub.Location != nil {
		rf.LocationStatus = models.LocationKnown
		rf.DistanceKM = HaversineKM(*sub.Location, f.Location)
		rf.TravelTime = TravelTime(rf.DistanceKM, s.speed(sub.TransportMode), sub.ArrivedAt)
		rf.Breakdown[TermDistance] = -maxDistancePenalty * math.Min(rf.DistanceKM/s.cfg.MaxDistanceKM, 1)
		rf.Breakdown[TermTravelTime] = -maxTravelPenalty * math.Min(rf.TravelTime.Minutes()/s.cfg.MaxTravelMinutes, 1)
	}

	rf.Breakdown[TermSpecialty] = s.specialtyTerm(sub.Category, tier, f)
	rf.Breakdown[TermCapacity] = capacityTerm(f)
	rf.Breakdown[TermAgeAffinity] = ageAffinityTerm(sub.AgeBracket, f)
	rf.Breakdown[TermRegional] = s.regionalTerm(sub, f)

	rf.Score = baseScore
	for _, term := range termOrder {
		rf.Score += rf.Breakdown[term]
	}
	return rf
}

func (s *Scorer) speed(mode string) float64 {
	if v, ok := s.cfg.Speeds[strings.ToLower(mode)]; ok && v > 0 {
		return v
	}
	if v, ok := s.cfg.Speeds[models.TransportPrivate]; ok && v > 0 {
		return v
	}
	return defaultSpeedKMH
}

func (s *Scorer) specialtyTerm(category string, tier models.Tier, f models.FacilityRecord) float64 {
	var term float64
	required := s.cfg.CategorySpecialties[strings.ToLower(strings.TrimSpace(category))]
	if len(required) > 0 {
		covered := 0
		for _, sp := range required {
			if f.HasSpecialty(sp) {
				covered++
			}
		}
		term = specialtyWeight * float64(covered) / float64(len(required))
	}
	if tier == models.TierCritical && f.HasSpecialty("icu") {
		term += criticalICUBonus
	}
	return term
}

func capacityTerm(f models.FacilityRecord) float64 {
	switch u := f.Utilization(); {
	case u < 0.6:
		return 20
	case u < 0.8:
		return 10
	case u < 0.9:
		return 5
	case u >= 1:
		return -10
	default:
		return 0
	}
}

func ageAffinityTerm(bracket string, f models.FacilityRecord) float64 {
	switch strings.ToLower(bracket) {
	case models.AgeInfant, models.AgeChild:
		if f.HasSpecialty("pediatrics") {
			return ageAffinityBonus
		}
	case models.AgeSenior:
		if f.HasSpecialty("geriatrics") {
			return ageAffinityBonus
		}
	}
	return 0
}

// regionalTerm adds the same-locality bonus plus the first configured
// region that contains the facility.
func (s *Scorer) regionalTerm(sub models.Submission, f models.FacilityRecord) float64 {
	var term float64
	if sub.Locality != "" && strings.EqualFold(sub.Locality, f.Locality) {
		term += s.cfg.SameLocalityBonus
	}
	for _, r := range s.cfg.Regions {
		center := models.GeoPoint{Latitude: r.Latitude, Longitude: r.Longitude}
		if HaversineKM(center, f.Location) <= r.RadiusKM {
			term += r.Bonus
			break
		}
	}
	return term
}

// TravelEstimate is the travel time for a facility, zero when unknown.
func (s *Scorer) TravelEstimate(sub models.Submission, f models.FacilityRecord) time.Duration {
	if sub.Location == nil {
		return 0
	}
	return TravelTime(HaversineKM(*sub.Location, f.Location), s.speed(sub.TransportMode), sub.ArrivedAt)
}
