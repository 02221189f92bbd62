package overridetriage

import (
	"context"

	"emergency-admission/internal/models"
	"emergency-admission/internal/pipeline"
)

type Service interface {
	OverrideTriage(ctx context.Context, submissionID string, tier models.Tier, actor, reason string, recompute bool) (pipeline.OverrideResult, error)
}

type Input struct {
	SubmissionID string `json:"submissionId"`
	Tier         string `json:"tier"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason"`
	Recompute    bool   `json:"recompute,omitempty"`
}

type Output struct {
	SubmissionID  string `json:"submissionId"`
	Tier          string `json:"tier"`
	TriageVersion int    `json:"triageVersion"`
	FacilityID    string `json:"facilityId,omitempty"`
	QueuePosition int    `json:"queuePosition,omitempty"`
}
