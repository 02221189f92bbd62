package facility

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-admission/internal/common/config"
	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

type staticSource []models.FacilityRecord

func (s staticSource) Active() []models.FacilityRecord {
	out := make([]models.FacilityRecord, 0, len(s))
	for _, f := range s {
		if f.Active {
			out = append(out, f)
		}
	}
	return out
}

func testFacilities() staticSource {
	return staticSource{
		{
			ID: "kph", Name: "Kingston Public", Location: models.GeoPoint{Latitude: 17.9714, Longitude: -76.7920},
			Capacity: 100, CurrentLoad: 50, Specialties: []string{"trauma", "surgery", "icu"}, Locality: "kingston", Active: true,
		},
		{
			ID: "uhwi", Name: "University Hospital", Location: models.GeoPoint{Latitude: 18.0059, Longitude: -76.7466},
			Capacity: 100, CurrentLoad: 85, Specialties: []string{"cardiology", "icu", "pediatrics"}, Locality: "kingston", Active: true,
		},
		{
			ID: "cornwall", Name: "Cornwall Regional", Location: models.GeoPoint{Latitude: 18.4735, Longitude: -77.9214},
			Capacity: 50, CurrentLoad: 10, Specialties: []string{"trauma"}, Locality: "montego-bay", Active: true,
		},
		{ID: "closed", Location: kingston, Capacity: 100, Specialties: []string{"trauma", "surgery", "icu"}, Active: false},
	}
}

func testScorerConfig() ScorerConfig {
	return ScorerConfig{
		MaxDistanceKM:       100,
		MaxTravelMinutes:    90,
		Speeds:              map[string]float64{"ambulance": 60, "private": 40, "walk-in": 25},
		CategorySpecialties: config.DefaultCategorySpecialties(),
		SameLocalityBonus:   4,
		Regions:             config.DefaultRegions(),
	}
}

func noon() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }

func TestRank_PrefersCloseSpecialisedFacility(t *testing.T) {
	s := NewScorer(testFacilities(), testScorerConfig(), logger.NewNoOpLogger())
	sub := models.Submission{
		ID: "s1", Category: "violent", TransportMode: models.TransportAmbulance,
		Location: &models.GeoPoint{Latitude: 18.0, Longitude: -76.79}, Locality: "kingston", ArrivedAt: noon(),
	}

	ranked, err := s.Rank(sub, models.TierCritical)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, "kph", ranked[0].Facility.ID)
	assert.Equal(t, "cornwall", ranked[2].Facility.ID)
	for i, r := range ranked {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, models.LocationKnown, r.LocationStatus)
	}
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.InDelta(t, 35, ranked[0].Breakdown[TermSpecialty], 1e-9)
	assert.Equal(t, 20.0, ranked[0].Breakdown[TermCapacity])
	assert.Equal(t, 9.0, ranked[0].Breakdown[TermRegional])
	assert.Greater(t, ranked[2].DistanceKM, 100.0)
	assert.Equal(t, -30.0, ranked[2].Breakdown[TermDistance])
}

func TestRank_Deterministic(t *testing.T) {
	s := NewScorer(testFacilities(), testScorerConfig(), logger.NewNoOpLogger())
	sub := models.Submission{ID: "s", Category: "stroke", AgeBracket: models.AgeChild,
		Location: &models.GeoPoint{Latitude: 18.2, Longitude: -77.0}, ArrivedAt: noon()}

	first, err := s.Rank(sub, models.TierHigh)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := s.Rank(sub, models.TierHigh)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestRank_TiesBrokenByID(t *testing.T) {
	twin := models.FacilityRecord{Location: kingston, Capacity: 10, Active: true}
	a, b := twin, twin
	a.ID, b.ID = "b-site", "a-site"
	s := NewScorer(staticSource{a, b}, testScorerConfig(), logger.NewNoOpLogger())

	ranked, err := s.Rank(models.Submission{ID: "s", Location: &spanishTown}, models.TierLow)
	require.NoError(t, err)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
	assert.Equal(t, "a-site", ranked[0].Facility.ID)
}

func TestRank_NoLocation(t *testing.T) {
	s := NewScorer(testFacilities(), testScorerConfig(), logger.NewNoOpLogger())

	ranked, err := s.Rank(models.Submission{ID: "s", Category: "violent"}, models.TierCritical)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, []string{"cornwall", "kph", "uhwi"},
		[]string{ranked[0].Facility.ID, ranked[1].Facility.ID, ranked[2].Facility.ID})
	for _, r := range ranked {
		assert.Equal(t, models.LocationUnknown, r.LocationStatus)
		assert.Equal(t, 0.0, r.DistanceKM)
		assert.Equal(t, time.Duration(0), r.TravelTime)
		assert.False(t, math.IsNaN(r.Score))
	}
}

func TestRank_EmptyDirectory(t *testing.T) {
	s := NewScorer(staticSource{{ID: "closed", Active: false}}, testScorerConfig(), logger.NewNoOpLogger())

	ranked, err := s.Rank(models.Submission{ID: "s"}, models.TierLow)
	assert.Nil(t, ranked)
	assert.True(t, errors.Is(err, apperrors.ErrNoFacilityAvailable))
}

func TestCapacityTerm(t *testing.T) {
	tests := []struct {
		load int
		want float64
	}{
		{0, 20}, {59, 20}, {60, 10}, {79, 10}, {80, 5}, {89, 5}, {95, 0}, {100, -10}, {130, -10},
	}
	for _, tt := range tests {
		got := capacityTerm(models.FacilityRecord{Capacity: 100, CurrentLoad: tt.load})
		assert.Equal(t, tt.want, got, "load %d", tt.load)
	}
}

func TestAgeAffinityTerm(t *testing.T) {
	peds := models.FacilityRecord{Specialties: []string{"pediatrics"}}
	geri := models.FacilityRecord{Specialties: []string{"geriatrics"}}

	assert.Equal(t, 8.0, ageAffinityTerm(models.AgeInfant, peds))
	assert.Equal(t, 8.0, ageAffinityTerm(models.AgeChild, peds))
	assert.Equal(t, 0.0, ageAffinityTerm(models.AgeSenior, peds))
	assert.Equal(t, 8.0, ageAffinityTerm(models.AgeSenior, geri))
	assert.Equal(t, 0.0, ageAffinityTerm(models.AgeAdult, geri))
}

func TestRegionalTerm_IsDataDriven(t *testing.T) {
	cfg := testScorerConfig()
	cfg.Regions = []config.Region{{Name: "west", Latitude: 18.47, Longitude: -77.92, RadiusKM: 5, Bonus: 11}}
	s := NewScorer(testFacilities(), cfg, logger.NewNoOpLogger())

	cornwall := testFacilities()[2]
	assert.Equal(t, 11.0, s.regionalTerm(models.Submission{}, cornwall))
	assert.Equal(t, 15.0, s.regionalTerm(models.Submission{Locality: "Montego-Bay"}, cornwall))
	assert.Equal(t, 0.0, s.regionalTerm(models.Submission{}, testFacilities()[0]))
}

func TestTravelEstimate(t *testing.T) {
	s := NewScorer(testFacilities(), testScorerConfig(), logger.NewNoOpLogger())
	f := testFacilities()[0]

	assert.Equal(t, time.Duration(0), s.TravelEstimate(models.Submission{}, f))

	walk := s.TravelEstimate(models.Submission{Location: &spanishTown, TransportMode: models.TransportWalkIn, ArrivedAt: noon()}, f)
	amb := s.TravelEstimate(models.Submission{Location: &spanishTown, TransportMode: models.TransportAmbulance, ArrivedAt: noon()}, f)
	assert.Greater(t, walk, amb)
}
