package completecase

import (
	"context"

	"emergency-admission/internal/models"
)

type Service interface {
	CompleteCase(ctx context.Context, submissionID, outcome, actor string) (models.QueueEntry, error)
}

type Input struct {
	SubmissionID string `json:"submissionId"`
	Outcome      string `json:"outcome,omitempty"`
	Actor        string `json:"actor,omitempty"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	FacilityID   string `json:"facilityId"`
	CaseState    string `json:"caseState"`
	CompletedAt  string `json:"completedAt"` // RFC 3339
}
