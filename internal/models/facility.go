// internal/models/facility.go
package models

import "time"

// Location status of a ranking
const (
	LocationKnown   = "known"
	LocationUnknown = "unknown"
)

// FacilityRecord is a treatment facility as known to the directory.
type FacilityRecord struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Location    GeoPoint `json:"location" yaml:"location"`
	Capacity    int      `json:"capacity" yaml:"capacity"`
	CurrentLoad int      `json:"currentLoad" yaml:"current_load"`
	Specialties []string `json:"specialties" yaml:"specialties"`
	Locality    string   `json:"locality,omitempty" yaml:"locality,omitempty"`
	Active      bool     `json:"active" yaml:"active"`
}

// Utilization is current_load / capacity. A facility without capacity is full.
func (f FacilityRecord) Utilization() float64 {
	if f.Capacity <= 0 {
		return 1
	}
	return float64(f.CurrentLoad) / float64(f.Capacity)
}

func (f FacilityRecord) HasSpecialty(s string) bool {
	for _, sp := range f.Specialties {
		if sp == s {
			return true
		}
	}
	return false
}

// RankedFacility is a per-request scoring result; it is never persisted.
type RankedFacility struct {
	Facility       FacilityRecord     `json:"facility"`
	DistanceKM     float64            `json:"distanceKm"`
	TravelTime     time.Duration      `json:"travelTime"`
	Score          float64            `json:"score"`
	Rank           int                `json:"rank"`
	LocationStatus string             `json:"locationStatus"`
	Breakdown      map[string]float64 `json:"breakdown,omitempty"`
}
