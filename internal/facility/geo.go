package facility

import (
	"math"
	"time"

	"emergency-admission/internal/models"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distance.
const EarthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two points.
func HaversineKM(a, b models.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// TrafficMultiplier scales travel time by hour of day: rush hours are
// slower, late night is faster. A zero time means no adjustment.
func TrafficMultiplier(at time.Time) float64 {
	if at.IsZero() {
		return 1.0
	}
	switch h := at.Hour(); {
	case (h >= 7 && h <= 9) || (h >= 16 && h <= 19):
		return 1.4
	case h >= 22 || h <= 5:
		return 0.8
	default:
		return 1.0
	}
}

// TravelTime converts a distance into an estimated travel duration.
func TravelTime(distanceKM, speedKMH float64, at time.Time) time.Duration {
	if speedKMH <= 0 || distanceKM <= 0 {
		return 0
	}
	hours := distanceKM / speedKMH * TrafficMultiplier(at)
	return time.Duration(hours * float64(time.Hour))
}
