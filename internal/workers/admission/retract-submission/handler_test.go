package retractsubmission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
	"emergency-admission/internal/pipeline"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Retract(ctx context.Context, submissionID, actor string) (pipeline.RetractResult, error) {
	args := m.Called(ctx, submissionID, actor)
	return args.Get(0).(pipeline.RetractResult), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "emergency-admission",
		ElementId:          "Activity_RetractSubmission",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func TestHandler_ParseInput(t *testing.T) {
	h, err := NewHandler(HandlerOptions{Service: &MockService{}, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{"submissionId": "sub-9", "actor": "caller"}))
	require.NoError(t, err)
	assert.Equal(t, "sub-9", input.SubmissionID)

	_, err = h.parseInput(createMockJob(2, map[string]interface{}{"actor": "caller"}))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name        string
		result      pipeline.RetractResult
		wantRemoved bool
		wantFacID   string
	}{
		{
			name: "admitted submission leaves its queue",
			result: pipeline.RetractResult{
				SubmissionID: "sub-9",
				Removed:      true,
				Entry:        &models.QueueEntry{SubmissionID: "sub-9", FacilityID: "kph", State: models.StateRemoved},
			},
			wantRemoved: true,
			wantFacID:   "kph",
		},
		{
			name:   "submission still in admission",
			result: pipeline.RetractResult{SubmissionID: "sub-9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockService{}
			svc.On("Retract", mock.Anything, "sub-9", "caller").Return(tt.result, nil)
			h, err := NewHandler(HandlerOptions{Service: svc, Logger: logger.NewTestLogger(t)})
			require.NoError(t, err)

			out, err := h.Execute(context.Background(), &Input{SubmissionID: "sub-9", Actor: "caller"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemoved, out.Removed)
			assert.Equal(t, tt.wantFacID, out.FacilityID)
		})
	}
}
