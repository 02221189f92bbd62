// internal/models/submission.go
package models

import "time"

// Transport modes
const (
	TransportAmbulance = "ambulance"
	TransportPrivate   = "private"
	TransportWalkIn    = "walk-in"
)

// Age brackets
const (
	AgeInfant = "infant"
	AgeChild  = "child"
	AgeAdult  = "adult"
	AgeSenior = "senior"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Submission is an incoming incident report. It is not mutated once accepted.
type Submission struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	Status           string    `json:"status"`
	Category         string    `json:"category"`
	AgeBracket       string    `json:"ageBracket"`
	TransportMode    string    `json:"transportMode"`
	Location         *GeoPoint `json:"location,omitempty"`
	Locality         string    `json:"locality,omitempty"`
	ArrivedAt        time.Time `json:"arrivedAt"`
	ForcedFacilityID string    `json:"forcedFacilityId,omitempty"`
	SubmittedBy      string    `json:"submittedBy,omitempty"`
}

// AdmissionResult is returned to the caller of submit.
type AdmissionResult struct {
	SubmissionID     string         `json:"submissionId"`
	Triage           TriageResult   `json:"triage"`
	AssignedFacility RankedFacility `json:"assignedFacility"`
	QueuePosition    int            `json:"queuePosition"`
	EstimatedWait    time.Duration  `json:"estimatedWait"`
	ManualReview     bool           `json:"manualReview"`
	ReviewReasons    []string       `json:"reviewReasons,omitempty"`
}
