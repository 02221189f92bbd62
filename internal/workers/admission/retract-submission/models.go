package retractsubmission

import (
	"context"

	"emergency-admission/internal/pipeline"
)

type Service interface {
	Retract(ctx context.Context, submissionID, actor string) (pipeline.RetractResult, error)
}

type Input struct {
	SubmissionID string `json:"submissionId"`
	Actor        string `json:"actor,omitempty"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	Removed      bool   `json:"removed"`
	FacilityID   string `json:"facilityId,omitempty"`
}
