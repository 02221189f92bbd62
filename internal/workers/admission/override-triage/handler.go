package overridetriage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"emergency-admission/internal/common/camunda"
	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/common/metrics"
	"emergency-admission/internal/common/validation"
	"emergency-admission/internal/models"
)

const TaskType = "override-triage"

type Handler struct {
	config       *Config
	logger       logger.Logger
	service      Service
	errorHandler *apperrors.ErrorHandler
}

type HandlerOptions struct {
	Config  *Config
	Service Service
	Logger  logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("%s: service is required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		logger:       log,
		service:      opts.Service,
		errorHandler: apperrors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	camunda.CompleteJob(ctx, client, job, output, h.logger)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	tier, err := models.ParseTier(input.Tier)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	res, err := h.service.OverrideTriage(ctx, input.SubmissionID, tier, input.Actor, input.Reason, input.Recompute)
	if err != nil {
		return nil, err
	}

	out := &Output{
		SubmissionID:  res.Triage.SubmissionID,
		Tier:          res.Triage.Tier.String(),
		TriageVersion: res.Triage.Version,
	}
	if res.Entry != nil {
		out.FacilityID = res.Entry.FacilityID
		out.QueuePosition = res.Entry.Position
	}

	h.logger.Info("Triage overridden", map[string]interface{}{
		"submissionId": out.SubmissionID,
		"tier":         out.Tier,
		"version":      out.TriageVersion,
		"recomputed":   res.Entry != nil,
	})
	return out, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("parse job variables: %v", err))
	}

	result, err := validation.Validate(variables, inputSchemaLoader)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if !result.Valid {
		return nil, apperrors.NewValidationError(result.Summary())
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("decode job variables: %v", err))
	}
	return &input, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
