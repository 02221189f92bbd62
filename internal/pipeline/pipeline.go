// Package pipeline sequences triage, facility ranking and queue admission
// for each incoming submission and fans the resulting events out to the
// audit log, the search mirror and the notification gateway.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/common/metrics"
	"emergency-admission/internal/common/observability"
	"emergency-admission/internal/common/validation"
	"emergency-admission/internal/models"
	"emergency-admission/internal/notification"
	"emergency-admission/internal/repository"
)

const (
	systemActor         = "system"
	defaultStoreTimeout = 2 * time.Second
)

// Manual review reasons.
const (
	ReviewTriageDegraded  = "triage degraded"
	ReviewDefaultFacility = "default facility used"
	ReviewLocationUnknown = "location unknown"
)

var tracer trace.Tracer = otel.Tracer("emergency-admission/pipeline")

type Classifier interface {
	Classify(sub models.Submission) models.TriageResult
	Override(prev models.TriageResult, tier models.Tier, actor, reason string) (models.TriageResult, error)
}

type Ranker interface {
	Rank(sub models.Submission, tier models.Tier) ([]models.RankedFacility, error)
	Evaluate(sub models.Submission, tier models.Tier, f models.FacilityRecord) models.RankedFacility
}

type Facilities interface {
	Get(id string) (models.FacilityRecord, bool)
	Snapshot() []models.FacilityRecord
}

type Queue interface {
	Admit(ctx context.Context, sub models.Submission, facilityID string, tier models.Tier, travel time.Duration) (models.QueueEntry, error)
	Remove(ctx context.Context, submissionID, reason string) (models.QueueEntry, error)
	Move(ctx context.Context, submissionID, direction string) (models.QueueEntry, error)
	StartTreatment(ctx context.Context, submissionID string) (models.QueueEntry, error)
	Reprioritize(ctx context.Context, submissionID string, tier models.Tier) (models.QueueEntry, error)
	Retract(ctx context.Context, submissionID string) (models.QueueEntry, bool, error)
	Expect(submissionID string)
	Forget(submissionID string)
	Queue(facilityID string) []models.QueueEntry
	Entry(submissionID string) (models.QueueEntry, bool)
	Pending() []models.PendingSubmission
}

type Notifier interface {
	Dispatch(n notification.Notification) bool
}

type Auditor interface {
	Index(ctx context.Context, event models.Event) error
	History(ctx context.Context, submissionID string, size int) ([]models.Event, error)
}

// Dependencies wires a Pipeline. Repository, Notifier, Auditor and
// Observability are optional.
type Dependencies struct {
	Classifier    Classifier
	Ranker        Ranker
	Facilities    Facilities
	Queue         Queue
	Repository    repository.Repository
	Notifier      Notifier
	Auditor       Auditor
	Observability *observability.Observability
	Logger        logger.Logger
}

type Options struct {
	DefaultFacilityID string
	StoreTimeout      time.Duration
	RecorderWorkers   int
	RecorderBuffer    int
}

// OverrideResult is the outcome of a staff triage override.
type OverrideResult struct {
	Triage models.TriageResult `json:"triage"`
	Entry  *models.QueueEntry  `json:"entry,omitempty"`
}

// RetractResult reports whether a retraction removed an admitted entry.
type RetractResult struct {
	SubmissionID string             `json:"submissionId"`
	Removed      bool               `json:"removed"`
	Entry        *models.QueueEntry `json:"entry,omitempty"`
}

type Pipeline struct {
	deps   Dependencies
	opts   Options
	logger logger.Logger
	now    func() time.Time

	events *recorder

	mu     sync.RWMutex
	triage map[string]models.TriageResult
}

func New(deps Dependencies, opts Options) *Pipeline {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	log := deps.Logger.WithFields(map[string]interface{}{"component": "admission-pipeline"})
	var store eventLog
	if deps.Repository != nil {
		store = deps.Repository
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: log,
		now:    time.Now,
		events: newRecorder(store, deps.Auditor, opts, log),
		triage: make(map[string]models.TriageResult),
	}
}

// OnPositionChanges turns coordinator position changes into
// QueuePositionChanged events. It is installed as the coordinator observer
// and runs synchronously after each mutation, so the batch is only queued.
func (p *Pipeline) OnPositionChanges(changes []models.PositionChange) {
	if len(changes) == 0 {
		return
	}
	events := make([]models.Event, 0, len(changes))
	for _, ch := range changes {
		event := p.stamp(models.Event{
			Kind:       models.EventQueuePositionChanged,
			SubjectID:  ch.SubmissionID,
			FacilityID: ch.FacilityID,
			Actor:      systemActor,
			Payload: map[string]interface{}{
				"oldPosition":   ch.OldPosition,
				"newPosition":   ch.NewPosition,
				"estimatedWait": ch.EstimatedWait.String(),
			},
		})
		events = append(events, event)
		p.notify(event)
	}
	p.events.record(events...)
}

// Start launches the background event writers. Stop drains them.
func (p *Pipeline) Start(ctx context.Context) {
	p.events.start(ctx)
}

func (p *Pipeline) Stop() {
	p.events.stop()
}

// Submit runs one submission through the pipeline. The caller receives a
// committed queue position or an error carrying an admission error code.
func (p *Pipeline) Submit(ctx context.Context, sub models.Submission) (models.AdmissionResult, error) {
	start := p.now()
	ctx, span := tracer.Start(ctx, "pipeline.submit")
	defer span.End()

	result, err := p.submit(ctx, sub)
	metrics.PipelineDuration.Observe(p.now().Sub(start).Seconds())

	if err != nil {
		code := apperrors.CodeOf(err)
		metrics.AdmissionFailures.WithLabelValues(string(code)).Inc()
		p.deps.Observability.RecordSubmission(ctx, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return models.AdmissionResult{}, err
	}

	metrics.SubmissionsTotal.WithLabelValues(result.Triage.Tier.String(), result.Triage.Method).Inc()
	p.deps.Observability.RecordSubmission(ctx, "admitted")
	span.SetAttributes(
		attribute.String("submission.id", result.SubmissionID),
		attribute.String("triage.tier", result.Triage.Tier.String()),
		attribute.String("facility.id", result.AssignedFacility.Facility.ID),
		attribute.Int("queue.position", result.QueuePosition),
	)
	return result, nil
}

func (p *Pipeline) submit(ctx context.Context, sub models.Submission) (models.AdmissionResult, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.ArrivedAt.IsZero() {
		sub.ArrivedAt = p.now().UTC()
	}

	vres, err := validation.ValidateSubmission(sub)
	if err != nil {
		return models.AdmissionResult{}, apperrors.NewValidationError(err.Error())
	}
	if !vres.Valid {
		return models.AdmissionResult{}, apperrors.NewValidationError(vres.Summary())
	}

	p.deps.Queue.Expect(sub.ID)
	defer p.deps.Queue.Forget(sub.ID)

	var reasons []string

	stageStart := p.now()
	tri := p.deps.Classifier.Classify(sub)
	p.deps.Observability.RecordStage(ctx, "classify", p.now().Sub(stageStart), tri.Method)
	if tri.Degraded() {
		reasons = append(reasons, ReviewTriageDegraded)
	}
	p.rememberTriage(tri)

	stageStart = p.now()
	assigned, usedDefault, err := p.chooseFacility(sub, tri.Tier)
	if err != nil {
		p.deps.Observability.RecordStage(ctx, "rank", p.now().Sub(stageStart), "failed")
		p.emitAdmissionFailed(sub, "", err)
		return models.AdmissionResult{}, err
	}
	p.deps.Observability.RecordStage(ctx, "rank", p.now().Sub(stageStart), assigned.LocationStatus)
	if usedDefault {
		reasons = append(reasons, ReviewDefaultFacility)
	}
	if assigned.LocationStatus == models.LocationUnknown {
		reasons = append(reasons, ReviewLocationUnknown)
	}

	p.persistSubmission(ctx, sub, tri)

	stageStart = p.now()
	entry, err := p.deps.Queue.Admit(ctx, sub, assigned.Facility.ID, tri.Tier, assigned.TravelTime)
	if err != nil {
		p.deps.Observability.RecordStage(ctx, "admit", p.now().Sub(stageStart), "failed")
		if errors.Is(err, apperrors.ErrSubmissionRetracted) {
			p.forgetTriage(sub.ID)
		}
		p.emitAdmissionFailed(sub, assigned.Facility.ID, err)
		return models.AdmissionResult{}, err
	}
	p.deps.Observability.RecordStage(ctx, "admit", p.now().Sub(stageStart), "ok")

	result := models.AdmissionResult{
		SubmissionID:     sub.ID,
		Triage:           tri,
		AssignedFacility: assigned,
		QueuePosition:    entry.Position,
		EstimatedWait:    entry.EstimatedWait,
		ManualReview:     len(reasons) > 0,
		ReviewReasons:    reasons,
	}

	p.emit(models.Event{
		Kind:       models.EventFacilityAssigned,
		SubjectID:  sub.ID,
		FacilityID: assigned.Facility.ID,
		Actor:      actorOf(sub.SubmittedBy),
		Payload: map[string]interface{}{
			"facilityId":     assigned.Facility.ID,
			"tier":           tri.Tier.String(),
			"method":         tri.Method,
			"queuePosition":  entry.Position,
			"estimatedWait":  entry.EstimatedWait.String(),
			"locationStatus": assigned.LocationStatus,
			"manualReview":   result.ManualReview,
		},
	}, true)
	if result.ManualReview {
		p.emit(models.Event{
			Kind:       models.EventManualReview,
			SubjectID:  sub.ID,
			FacilityID: assigned.Facility.ID,
			Actor:      systemActor,
			Payload:    map[string]interface{}{"reasons": reasons},
		}, true)
	}

	p.logger.Info("submission admitted", map[string]interface{}{
		"submissionId":  sub.ID,
		"tier":          tri.Tier.String(),
		"method":        tri.Method,
		"facilityId":    assigned.Facility.ID,
		"queuePosition": entry.Position,
		"manualReview":  result.ManualReview,
	})
	return result, nil
}

// chooseFacility picks the staff-forced facility, else the top-ranked one,
// else the configured default when nothing can be ranked.
func (p *Pipeline) chooseFacility(sub models.Submission, tier models.Tier) (models.RankedFacility, bool, error) {
	if sub.ForcedFacilityID != "" {
		f, ok := p.deps.Facilities.Get(sub.ForcedFacilityID)
		if !ok {
			return models.RankedFacility{}, false, apperrors.NewFacilityNotFoundError(sub.ForcedFacilityID)
		}
		rf := p.deps.Ranker.Evaluate(sub, tier, f)
		rf.Rank = 1
		return rf, false, nil
	}

	ranked, err := p.deps.Ranker.Rank(sub, tier)
	if err == nil {
		return ranked[0], false, nil
	}
	if !errors.Is(err, apperrors.ErrNoFacilityAvailable) || p.opts.DefaultFacilityID == "" {
		return models.RankedFacility{}, false, err
	}

	f, ok := p.deps.Facilities.Get(p.opts.DefaultFacilityID)
	if !ok {
		return models.RankedFacility{}, false, err
	}
	p.logger.Warn("ranking failed, using default facility", map[string]interface{}{
		"submissionId": sub.ID,
		"facilityId":   f.ID,
		"error":        err.Error(),
	})
	rf := p.deps.Ranker.Evaluate(sub, tier, f)
	rf.Rank = 1
	return rf, true, nil
}

// GetQueue returns a facility's ordered queue from the last committed snapshot.
func (p *Pipeline) GetQueue(facilityID string) ([]models.QueueEntry, error) {
	if _, ok := p.deps.Facilities.Get(facilityID); !ok {
		return nil, apperrors.NewFacilityNotFoundError(facilityID)
	}
	return p.deps.Queue.Queue(facilityID), nil
}

func (p *Pipeline) Facilities() []models.FacilityRecord {
	return p.deps.Facilities.Snapshot()
}

// CompleteCase ends a case with the given clinical outcome.
func (p *Pipeline) CompleteCase(ctx context.Context, submissionID, outcome, actor string) (models.QueueEntry, error) {
	ctx, span := tracer.Start(ctx, "pipeline.complete_case")
	defer span.End()

	entry, err := p.deps.Queue.Remove(ctx, submissionID, models.ReasonCompleted)
	if err != nil {
		span.RecordError(err)
		return models.QueueEntry{}, err
	}
	p.forgetTriage(submissionID)
	p.emit(models.Event{
		Kind:       models.EventCaseCompleted,
		SubjectID:  submissionID,
		FacilityID: entry.FacilityID,
		Actor:      actorOf(actor),
		Payload:    map[string]interface{}{"outcome": outcome},
	}, true)
	return entry, nil
}

// RemoveCase takes an entry out of its queue for a reason other than
// completion (transferred, error, staff-override).
func (p *Pipeline) RemoveCase(ctx context.Context, submissionID, reason, actor string) (models.QueueEntry, error) {
	entry, err := p.deps.Queue.Remove(ctx, submissionID, reason)
	if err != nil {
		return models.QueueEntry{}, err
	}
	p.forgetTriage(submissionID)
	p.emit(models.Event{
		Kind:       models.EventCaseRemoved,
		SubjectID:  submissionID,
		FacilityID: entry.FacilityID,
		Actor:      actorOf(actor),
		Payload:    map[string]interface{}{"reason": reason, "state": string(entry.State)},
	}, false)
	return entry, nil
}

func (p *Pipeline) MoveInQueue(ctx context.Context, submissionID, direction, actor string) (models.QueueEntry, error) {
	ctx, span := tracer.Start(ctx, "pipeline.move_in_queue")
	defer span.End()

	entry, err := p.deps.Queue.Move(ctx, submissionID, direction)
	if err != nil {
		span.RecordError(err)
		return models.QueueEntry{}, err
	}
	p.emit(models.Event{
		Kind:       models.EventCaseMoved,
		SubjectID:  submissionID,
		FacilityID: entry.FacilityID,
		Actor:      actorOf(actor),
		Payload:    map[string]interface{}{"direction": direction, "position": entry.Position},
	}, false)
	return entry, nil
}

func (p *Pipeline) StartTreatment(ctx context.Context, submissionID, actor string) (models.QueueEntry, error) {
	entry, err := p.deps.Queue.StartTreatment(ctx, submissionID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	p.emit(models.Event{
		Kind:       models.EventTreatmentStarted,
		SubjectID:  submissionID,
		FacilityID: entry.FacilityID,
		Actor:      actorOf(actor),
	}, true)
	return entry, nil
}

// Retract withdraws a submission. While the submission is still in flight
// its admission is refused; afterwards the entry is removed as transferred.
// Ids the pipeline has never seen, or has finished with, are EntryNotFound.
func (p *Pipeline) Retract(ctx context.Context, submissionID, actor string) (RetractResult, error) {
	if submissionID == "" {
		return RetractResult{}, apperrors.NewValidationError("submission id is required")
	}
	entry, removed, err := p.deps.Queue.Retract(ctx, submissionID)
	if err != nil {
		return RetractResult{}, err
	}

	res := RetractResult{SubmissionID: submissionID, Removed: removed}
	if removed {
		res.Entry = &entry
	}
	p.forgetTriage(submissionID)
	p.emit(models.Event{
		Kind:       models.EventSubmissionRetracted,
		SubjectID:  submissionID,
		FacilityID: entry.FacilityID,
		Actor:      actorOf(actor),
		Payload:    map[string]interface{}{"removed": removed},
	}, true)
	return res, nil
}

// OverrideTriage records a staff decision as a new triage version. The
// queue is only reprioritized when recompute is set.
func (p *Pipeline) OverrideTriage(ctx context.Context, submissionID string, tier models.Tier, actor, reason string, recompute bool) (OverrideResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.override_triage")
	defer span.End()

	prev, ok := p.latestTriage(submissionID)
	if !ok {
		entry, active := p.deps.Queue.Entry(submissionID)
		if !active {
			return OverrideResult{}, apperrors.NewEntryNotFoundError(submissionID)
		}
		prev = models.TriageResult{SubmissionID: submissionID, Tier: entry.Tier}
	}

	next, err := p.deps.Classifier.Override(prev, tier, actor, reason)
	if err != nil {
		return OverrideResult{}, err
	}
	p.rememberTriage(next)
	p.persistTriage(ctx, next)

	res := OverrideResult{Triage: next}
	if recompute {
		entry, err := p.deps.Queue.Reprioritize(ctx, submissionID, tier)
		if err != nil && !errors.Is(err, apperrors.ErrEntryNotFound) {
			span.RecordError(err)
			return OverrideResult{}, err
		}
		if err == nil {
			res.Entry = &entry
		}
	}

	facilityID := ""
	if res.Entry != nil {
		facilityID = res.Entry.FacilityID
	}
	p.emit(models.Event{
		Kind:       models.EventTriageOverridden,
		SubjectID:  submissionID,
		FacilityID: facilityID,
		Actor:      actor,
		Payload: map[string]interface{}{
			"fromTier":  prev.Tier.String(),
			"toTier":    tier.String(),
			"version":   next.Version,
			"reason":    reason,
			"recompute": recompute,
		},
	}, false)
	return res, nil
}

// Pending lists failed admissions with their latest triage.
func (p *Pipeline) Pending() []models.PendingSubmission {
	pending := p.deps.Queue.Pending()
	for i := range pending {
		if tri, ok := p.latestTriage(pending[i].Submission.ID); ok {
			pending[i].Triage = tri
		}
	}
	return pending
}

// Triage returns the latest triage version of a submission still in flight.
func (p *Pipeline) Triage(submissionID string) (models.TriageResult, bool) {
	return p.latestTriage(submissionID)
}

// History returns a submission's events from the search mirror.
func (p *Pipeline) History(ctx context.Context, submissionID string) ([]models.Event, error) {
	if p.deps.Auditor == nil {
		return []models.Event{}, nil
	}
	ctx, cancel := repository.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return p.deps.Auditor.History(ctx, submissionID, 100)
}

func (p *Pipeline) rememberTriage(r models.TriageResult) {
	p.mu.Lock()
	p.triage[r.SubmissionID] = r
	p.mu.Unlock()
}

func (p *Pipeline) forgetTriage(submissionID string) {
	p.mu.Lock()
	delete(p.triage, submissionID)
	p.mu.Unlock()
}

func (p *Pipeline) latestTriage(submissionID string) (models.TriageResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.triage[submissionID]
	return r, ok
}

func actorOf(actor string) string {
	if actor == "" {
		return systemActor
	}
	return actor
}
