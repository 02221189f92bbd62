package moveinqueue

import (
	"context"

	"emergency-admission/internal/models"
)

type Service interface {
	MoveInQueue(ctx context.Context, submissionID, direction, actor string) (models.QueueEntry, error)
}

type Input struct {
	SubmissionID string `json:"submissionId"`
	Direction    string `json:"direction"` // "up" or "down"
	Actor        string `json:"actor,omitempty"`
}

type Output struct {
	SubmissionID         string `json:"submissionId"`
	FacilityID           string `json:"facilityId"`
	QueuePosition        int    `json:"queuePosition"`
	EstimatedWaitSeconds int64  `json:"estimatedWaitSeconds"`
}
