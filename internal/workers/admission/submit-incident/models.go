package submitincident

import (
	"context"

	"emergency-admission/internal/models"
)

// Service is the admission entry point the worker drives.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (models.AdmissionResult, error)
}

type Input struct {
	SubmissionID     string           `json:"submissionId,omitempty"`
	Description      string           `json:"description,omitempty"`
	Status           string           `json:"status,omitempty"`
	Category         string           `json:"category,omitempty"`
	AgeBracket       string           `json:"ageBracket,omitempty"`
	TransportMode    string           `json:"transportMode,omitempty"`
	Location         *models.GeoPoint `json:"location,omitempty"`
	Locality         string           `json:"locality,omitempty"`
	ForcedFacilityID string           `json:"forcedFacilityId,omitempty"`
	SubmittedBy      string           `json:"submittedBy,omitempty"`
}

type Output struct {
	SubmissionID         string   `json:"submissionId"`
	Tier                 string   `json:"tier"`
	TriageMethod         string   `json:"triageMethod"`
	TriageConfidence     float64  `json:"triageConfidence"`
	FacilityID           string   `json:"facilityId"`
	FacilityName         string   `json:"facilityName"`
	LocationStatus       string   `json:"locationStatus"`
	QueuePosition        int      `json:"queuePosition"`
	EstimatedWaitSeconds int64    `json:"estimatedWaitSeconds"`
	ManualReview         bool     `json:"manualReview"`
	ReviewReasons        []string `json:"reviewReasons,omitempty"`
}

func (in *Input) toSubmission() models.Submission {
	return models.Submission{
		ID:               in.SubmissionID,
		Description:      in.Description,
		Status:           in.Status,
		Category:         in.Category,
		AgeBracket:       in.AgeBracket,
		TransportMode:    in.TransportMode,
		Location:         in.Location,
		Locality:         in.Locality,
		ForcedFacilityID: in.ForcedFacilityID,
		SubmittedBy:      in.SubmittedBy,
	}
}

func outputFrom(res models.AdmissionResult) *Output {
	return &Output{
		SubmissionID:         res.SubmissionID,
		Tier:                 res.Triage.Tier.String(),
		TriageMethod:         res.Triage.Method,
		TriageConfidence:     res.Triage.Confidence,
		FacilityID:           res.AssignedFacility.Facility.ID,
		FacilityName:         res.AssignedFacility.Facility.Name,
		LocationStatus:       res.AssignedFacility.LocationStatus,
		QueuePosition:        res.QueuePosition,
		EstimatedWaitSeconds: int64(res.EstimatedWait.Seconds()),
		ManualReview:         res.ManualReview,
		ReviewReasons:        res.ReviewReasons,
	}
}
