package pipeline

import (
	"context"

	"github.com/google/uuid"

	"emergency-admission/internal/models"
	"emergency-admission/internal/notification"
	"emergency-admission/internal/repository"
)

// emit queues event for the audit log and the search mirror, and hands it
// to the notifier when notify is set. Neither step waits on storage.
func (p *Pipeline) emit(event models.Event, notify bool) {
	event = p.stamp(event)
	p.events.record(event)
	if notify {
		p.notify(event)
	}
}

func (p *Pipeline) stamp(event models.Event) models.Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	return event
}

func (p *Pipeline) notify(event models.Event) {
	if p.deps.Notifier == nil {
		return
	}
	payload := make(map[string]interface{}, len(event.Payload)+1)
	for k, v := range event.Payload {
		payload[k] = v
	}
	if event.FacilityID != "" {
		payload["facilityId"] = event.FacilityID
	}
	p.deps.Notifier.Dispatch(notification.Notification{
		SubmissionID: event.SubjectID,
		Kind:         event.Kind,
		Payload:      payload,
	})
}

func (p *Pipeline) emitAdmissionFailed(sub models.Submission, facilityID string, cause error) {
	p.logger.Error("admission failed", map[string]interface{}{
		"submissionId": sub.ID,
		"facilityId":   facilityID,
		"error":        cause.Error(),
	})
	p.emit(models.Event{
		Kind:       models.EventAdmissionFailed,
		SubjectID:  sub.ID,
		FacilityID: facilityID,
		Actor:      systemActor,
		Payload:    map[string]interface{}{"error": cause.Error()},
	}, true)
}

// persistSubmission stores the submission and its first triage version.
// Storage failures are logged; the in-memory queue stays authoritative.
func (p *Pipeline) persistSubmission(ctx context.Context, sub models.Submission, tri models.TriageResult) {
	if p.deps.Repository == nil {
		return
	}
	saveCtx, cancel := repository.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	if err := p.deps.Repository.SaveSubmission(saveCtx, sub); err != nil {
		p.logger.Warn("failed to persist submission", map[string]interface{}{
			"submissionId": sub.ID,
			"error":        err.Error(),
		})
	}
	p.persistTriage(ctx, tri)
}

func (p *Pipeline) persistTriage(ctx context.Context, tri models.TriageResult) {
	if p.deps.Repository == nil {
		return
	}
	saveCtx, cancel := repository.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	if err := p.deps.Repository.PersistTriageResult(saveCtx, tri); err != nil {
		p.logger.Warn("failed to persist triage result", map[string]interface{}{
			"submissionId": tri.SubmissionID,
			"version":      tri.Version,
			"error":        err.Error(),
		})
	}
}
