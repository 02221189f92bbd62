// internal/models/queue.go
package models

import "time"

// EntryState is the lifecycle state of a queue entry.
type EntryState string

const (
	StatePending     EntryState = "pending"
	StateQueued      EntryState = "queued"
	StateInTreatment EntryState = "in_treatment"
	StateCompleted   EntryState = "completed"
	StateRemoved     EntryState = "removed"
)

// Terminal reports whether no further transition is allowed.
func (s EntryState) Terminal() bool {
	return s == StateCompleted || s == StateRemoved
}

// Removal reasons
const (
	ReasonCompleted     = "completed"
	ReasonTransferred   = "transferred"
	ReasonError         = "error"
	ReasonStaffOverride = "staff-override"
)

// ValidRemovalReason reports whether reason is one of the accepted removal reasons.
func ValidRemovalReason(reason string) bool {
	switch reason {
	case ReasonCompleted, ReasonTransferred, ReasonError, ReasonStaffOverride:
		return true
	}
	return false
}

// Move directions
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// QueueEntry is a submission's place in one facility's queue.
type QueueEntry struct {
	SubmissionID  string        `json:"submissionId"`
	FacilityID    string        `json:"facilityId"`
	Tier          Tier          `json:"tier"`
	PriorityScore float64       `json:"priorityScore"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimatedWait"`
	InsertedAt    time.Time     `json:"insertedAt"`
	Sequence      int64         `json:"sequence"`
	State         EntryState    `json:"state"`
	RemovalReason string        `json:"removalReason,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Active reports whether the entry still occupies a queue position.
func (e QueueEntry) Active() bool {
	return e.State == StateQueued || e.State == StateInTreatment
}

// PendingSubmission is a submission whose admission could not be committed
// and is waiting for manual intervention.
type PendingSubmission struct {
	Submission Submission   `json:"submission"`
	Triage     TriageResult `json:"triage"`
	FacilityID string       `json:"facilityId"`
	Error      string       `json:"error"`
	FailedAt   time.Time    `json:"failedAt"`
}
