// internal/models/event.go
package models

import "time"

// Event kinds emitted by the admission pipeline.
const (
	EventSubmissionReceived   = "SubmissionReceived"
	EventTriageClassified     = "TriageClassified"
	EventTriageOverridden     = "TriageOverridden"
	EventFacilityAssigned     = "FacilityAssigned"
	EventQueuePositionChanged = "QueuePositionChanged"
	EventTreatmentStarted     = "TreatmentStarted"
	EventCaseCompleted        = "CaseCompleted"
	EventCaseRemoved          = "CaseRemoved"
	EventCaseMoved            = "CaseMoved"
	EventSubmissionRetracted  = "SubmissionRetracted"
	EventAdmissionFailed      = "AdmissionFailed"
	EventManualReview         = "ManualReviewRequired"
)

// Event is an audit and notification record.
type Event struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	SubjectID  string                 `json:"subjectId"`
	FacilityID string                 `json:"facilityId,omitempty"`
	Actor      string                 `json:"actor"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// PositionChange describes an entry whose queue position moved during a mutation.
type PositionChange struct {
	SubmissionID  string        `json:"submissionId"`
	FacilityID    string        `json:"facilityId"`
	OldPosition   int           `json:"oldPosition"`
	NewPosition   int           `json:"newPosition"`
	EstimatedWait time.Duration `json:"estimatedWait"`
}
