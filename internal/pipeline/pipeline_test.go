package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/facility"
	"emergency-admission/internal/models"
	"emergency-admission/internal/notification"
	"emergency-admission/internal/queue"
	"emergency-admission/internal/triage"
)

// ==========================
// Fakes
// ==========================

type fakeRepository struct {
	mu          sync.Mutex
	err         error
	submissions []models.Submission
	triage      []models.TriageResult
	events      []models.Event
}

func (r *fakeRepository) LoadFacilities(context.Context) ([]models.FacilityRecord, error) {
	return nil, errors.New("not used")
}

func (r *fakeRepository) LoadRules(context.Context) (models.RuleSet, error) {
	return models.RuleSet{}, errors.New("not used")
}

func (r *fakeRepository) SaveSubmission(_ context.Context, sub models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, sub)
	return r.err
}

func (r *fakeRepository) CommitQueue(context.Context, string, []models.QueueEntry, []models.QueueEntry) error {
	return r.err
}

func (r *fakeRepository) PersistTriageResult(_ context.Context, res models.TriageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triage = append(r.triage, res)
	return r.err
}

func (r *fakeRepository) LogEvent(_ context.Context, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (n *fakeNotifier) Dispatch(note notification.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return true
}

func (n *fakeNotifier) kinds(submissionID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.SubmissionID == submissionID {
			out = append(out, s.Kind)
		}
	}
	return out
}

func (n *fakeNotifier) find(submissionID, kind string) (notification.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.SubmissionID == submissionID && s.Kind == kind {
			return s, true
		}
	}
	return notification.Notification{}, false
}

type fakeAuditor struct {
	mu      sync.Mutex
	indexed []models.Event
}

func (a *fakeAuditor) Index(_ context.Context, e models.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indexed = append(a.indexed, e)
	return nil
}

func (a *fakeAuditor) History(_ context.Context, submissionID string, _ int) ([]models.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.Event
	for _, e := range a.indexed {
		if e.SubjectID == submissionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// blockingAuditor holds every Index call until release is closed.
type blockingAuditor struct {
	release chan struct{}
	calls   atomic.Int32
}

func (a *blockingAuditor) Index(ctx context.Context, _ models.Event) error {
	a.calls.Add(1)
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *blockingAuditor) History(context.Context, string, int) ([]models.Event, error) {
	return nil, nil
}

type hookedClassifier struct {
	Classifier
	before func(models.Submission)
}

func (c hookedClassifier) Classify(sub models.Submission) models.TriageResult {
	c.before(sub)
	return c.Classifier.Classify(sub)
}

type degradedClassifier struct {
	*triage.Classifier
}

func (d degradedClassifier) Classify(sub models.Submission) models.TriageResult {
	return models.TriageResult{
		SubmissionID: sub.ID,
		Version:      1,
		Tier:         models.TierHigh,
		Method:       models.MethodDegradedFallback,
		Explanation:  []string{"rule table unavailable"},
	}
}

type failingCommitter struct{}

func (failingCommitter) CommitQueue(context.Context, string, []models.QueueEntry, []models.QueueEntry) error {
	return errors.New("connection reset")
}

// ==========================
// Harness
// ==========================

var (
	nearKingston = &models.GeoPoint{Latitude: 17.99, Longitude: -76.79}

	kph = models.FacilityRecord{
		ID: "kph", Name: "Kingston Public", Location: models.GeoPoint{Latitude: 17.9714, Longitude: -76.7920},
		Capacity: 100, CurrentLoad: 40, Specialties: []string{"trauma", "surgery", "icu"}, Locality: "kingston", Active: true,
	}
	cornwall = models.FacilityRecord{
		ID: "cornwall", Name: "Cornwall Regional", Location: models.GeoPoint{Latitude: 18.4735, Longitude: -77.9214},
		Capacity: 50, CurrentLoad: 10, Specialties: []string{"trauma"}, Locality: "montego-bay", Active: true,
	}
)

type harness struct {
	pipeline *Pipeline
	coord    *queue.Coordinator
	dir      *facility.Directory
	repo     *fakeRepository
	notes    *fakeNotifier
	audit    *fakeAuditor
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	facilities []models.FacilityRecord
	opts       Options
	committer  queue.Committer
	auditor    Auditor
	degraded   bool
	hook       func(*harness, models.Submission)
}

func withFacilities(f ...models.FacilityRecord) harnessOption {
	return func(c *harnessConfig) { c.facilities = f }
}

func withOptions(o Options) harnessOption {
	return func(c *harnessConfig) { c.opts = o }
}

func withCommitter(cm queue.Committer) harnessOption {
	return func(c *harnessConfig) { c.committer = cm }
}

func withAuditor(a Auditor) harnessOption {
	return func(c *harnessConfig) { c.auditor = a }
}

// withClassifierHook runs fn while a submission is being classified, after
// the pipeline has taken it in and before it reaches the queue.
func withClassifierHook(fn func(*harness, models.Submission)) harnessOption {
	return func(c *harnessConfig) { c.hook = fn }
}

func withDegradedTriage() harnessOption {
	return func(c *harnessConfig) { c.degraded = true }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{facilities: []models.FacilityRecord{kph, cornwall}}
	for _, o := range options {
		o(&cfg)
	}

	log := logger.NewNoOpLogger()
	dir := facility.NewDirectory(nil, time.Second, log)
	dir.Replace(cfg.facilities)

	classifier, err := triage.NewClassifier(triage.DefaultRuleSet(), triage.Options{}, log)
	require.NoError(t, err)
	var cls Classifier = classifier
	if cfg.degraded {
		cls = degradedClassifier{classifier}
	}

	coord := queue.NewCoordinator(dir, cfg.committer, queue.Options{}, log)
	h := &harness{
		coord: coord,
		dir:   dir,
		repo:  &fakeRepository{},
		notes: &fakeNotifier{},
		audit: &fakeAuditor{},
	}
	if cfg.hook != nil {
		cls = hookedClassifier{Classifier: cls, before: func(sub models.Submission) { cfg.hook(h, sub) }}
	}
	var auditor Auditor = h.audit
	if cfg.auditor != nil {
		auditor = cfg.auditor
	}
	h.pipeline = New(Dependencies{
		Classifier: cls,
		Ranker:     facility.NewScorer(dir, facility.ScorerConfig{}, log),
		Facilities: dir,
		Queue:      coord,
		Repository: h.repo,
		Notifier:   h.notes,
		Auditor:    auditor,
		Logger:     log,
	}, cfg.opts)
	coord.SetObserver(h.pipeline.OnPositionChanges)
	h.pipeline.Start(context.Background())
	t.Cleanup(h.pipeline.Stop)
	return h
}

func cardiac(id string) models.Submission {
	return models.Submission{
		ID:            id,
		Description:   "unconscious, cardiac arrest",
		Category:      "heart-attack",
		TransportMode: models.TransportAmbulance,
		Location:      nearKingston,
	}
}

func feverishInfant(id string) models.Submission {
	return models.Submission{
		ID:          id,
		Description: "high fever since last night",
		AgeBracket:  models.AgeInfant,
		Location:    nearKingston,
	}
}

func minorWalkIn(id string) models.Submission {
	return models.Submission{
		ID:            id,
		Description:   "small cut on the finger",
		Category:      "minor-injury",
		TransportMode: models.TransportWalkIn,
		Location:      nearKingston,
	}
}

// ==========================
// Submit
// ==========================

func TestSubmit_CriticalCardiac(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.NoError(t, err)

	assert.Equal(t, "s1", res.SubmissionID)
	assert.Equal(t, models.TierCritical, res.Triage.Tier)
	assert.Equal(t, models.MethodRuleMatch, res.Triage.Method)
	assert.Equal(t, "kph", res.AssignedFacility.Facility.ID)
	assert.Equal(t, 1, res.QueuePosition)
	assert.Zero(t, res.EstimatedWait)
	assert.False(t, res.ManualReview)

	require.Len(t, h.repo.submissions, 1)
	require.Len(t, h.repo.triage, 1)
	assert.Equal(t, 1, h.repo.triage[0].Version)

	kinds := h.notes.kinds("s1")
	assert.Contains(t, kinds, models.EventQueuePositionChanged)
	assert.Contains(t, kinds, models.EventFacilityAssigned)

	assigned, ok := h.notes.find("s1", models.EventFacilityAssigned)
	require.True(t, ok)
	assert.Equal(t, "critical", assigned.Payload["tier"])
	assert.Equal(t, "kph", assigned.Payload["facilityId"])

	assert.Eventually(t, func() bool {
		history, err := h.pipeline.History(context.Background(), "s1")
		return err == nil && len(history) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestSubmit_AssignsIDWhenMissing(t *testing.T) {
	h := newHarness(t)

	sub := cardiac("")
	res, err := h.pipeline.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SubmissionID)

	entry, ok := h.coord.Entry(res.SubmissionID)
	require.True(t, ok)
	assert.Equal(t, "kph", entry.FacilityID)
}

func TestSubmit_TierBeatsArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := feverishInfant("B")
	b.ArrivedAt = time.Now().UTC().Add(-10 * time.Second)
	b.ForcedFacilityID = "kph"
	a := cardiac("A")
	a.ForcedFacilityID = "kph"

	resB, err := h.pipeline.Submit(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.TierHigh, resB.Triage.Tier)

	_, err = h.pipeline.Submit(ctx, a)
	require.NoError(t, err)

	q, err := h.pipeline.GetQueue("kph")
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "A", q[0].SubmissionID)
	assert.Equal(t, "B", q[1].SubmissionID)
	assert.Equal(t, 2, q[1].Position)

	moved, ok := h.notes.find("B", models.EventQueuePositionChanged)
	require.True(t, ok)
	assert.Contains(t, moved.Payload, "newPosition")
}

func TestSubmit_NoLocationNeedsReview(t *testing.T) {
	h := newHarness(t)

	sub := cardiac("s1")
	sub.Location = nil
	res, err := h.pipeline.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, "cornwall", res.AssignedFacility.Facility.ID, "facilities are ordered by id without a location")
	assert.Equal(t, models.LocationUnknown, res.AssignedFacility.LocationStatus)
	assert.True(t, res.ManualReview)
	assert.Equal(t, []string{ReviewLocationUnknown}, res.ReviewReasons)
	assert.Contains(t, h.notes.kinds("s1"), models.EventManualReview)
}

func TestSubmit_DegradedTriageNeedsReview(t *testing.T) {
	h := newHarness(t, withDegradedTriage())

	res, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.NoError(t, err)
	assert.True(t, res.ManualReview)
	assert.Contains(t, res.ReviewReasons, ReviewTriageDegraded)
	assert.Equal(t, models.TierHigh, res.Triage.Tier)
}

func TestSubmit_FallsBackToDefaultFacility(t *testing.T) {
	standby := models.FacilityRecord{ID: "standby", Name: "Standby", Capacity: 10, Active: false}
	h := newHarness(t, withFacilities(standby), withOptions(Options{DefaultFacilityID: "standby"}))

	res, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.NoError(t, err)
	assert.Equal(t, "standby", res.AssignedFacility.Facility.ID)
	assert.Contains(t, res.ReviewReasons, ReviewDefaultFacility)
	assert.Equal(t, 1, res.QueuePosition)
}

func TestSubmit_NoFacilityAndNoDefault(t *testing.T) {
	h := newHarness(t, withFacilities())

	_, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoFacilityAvailable))
	assert.Contains(t, h.notes.kinds("s1"), models.EventAdmissionFailed)
}

func TestSubmit_ForcedFacility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := cardiac("s1")
	sub.ForcedFacilityID = "cornwall"
	res, err := h.pipeline.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, "cornwall", res.AssignedFacility.Facility.ID)
	assert.Greater(t, res.AssignedFacility.DistanceKM, 100.0)

	sub = cardiac("s2")
	sub.ForcedFacilityID = "nowhere"
	_, err = h.pipeline.Submit(ctx, sub)
	assert.True(t, errors.Is(err, apperrors.ErrFacilityNotFound))
}

func TestSubmit_ValidationError(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Submit(context.Background(), models.Submission{ID: "s1", Locality: "kingston"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, h.notes.kinds("s1"))
	assert.Empty(t, h.repo.submissions)
}

func TestSubmit_StorageFailuresDoNotBlock(t *testing.T) {
	h := newHarness(t)
	h.repo.err = errors.New("postgres down")

	res, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuePosition)
}

func TestSubmit_SlowAuditIndexDoesNotDelayAdmission(t *testing.T) {
	auditor := &blockingAuditor{release: make(chan struct{})}
	defer close(auditor.release)
	h := newHarness(t, withAuditor(auditor), withOptions(Options{StoreTimeout: 500 * time.Millisecond}))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sub := minorWalkIn("")
		sub.ForcedFacilityID = "kph"
		_, err := h.pipeline.Submit(ctx, sub)
		require.NoError(t, err)
	}

	start := time.Now()
	crit := cardiac("crit")
	crit.ForcedFacilityID = "kph"
	res, err := h.pipeline.Submit(ctx, crit)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuePosition)
	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Contains(t, h.notes.kinds("crit"), models.EventFacilityAssigned)
	assert.Eventually(t, func() bool { return auditor.calls.Load() > 0 }, time.Second, 10*time.Millisecond)
}

func TestSubmit_CommitFailureKeepsPending(t *testing.T) {
	h := newHarness(t, withCommitter(failingCommitter{}))

	_, err := h.pipeline.Submit(context.Background(), cardiac("s1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAdmissionFailed))

	pending := h.pipeline.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].Submission.ID)
	assert.Equal(t, models.TierCritical, pending[0].Triage.Tier)
	assert.Contains(t, h.notes.kinds("s1"), models.EventAdmissionFailed)
}

// ==========================
// Case operations
// ==========================

func TestCompleteCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, cardiac("s1"))
	require.NoError(t, err)

	entry, err := h.pipeline.CompleteCase(ctx, "s1", "discharged", "dr-brown")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, entry.State)

	q, err := h.pipeline.GetQueue("kph")
	require.NoError(t, err)
	assert.Empty(t, q)

	done, ok := h.notes.find("s1", models.EventCaseCompleted)
	require.True(t, ok)
	assert.Equal(t, "discharged", done.Payload["outcome"])

	_, err = h.pipeline.CompleteCase(ctx, "s1", "discharged", "dr-brown")
	assert.True(t, errors.Is(err, apperrors.ErrEntryNotFound))
}

func TestMoveInQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		sub := minorWalkIn(id)
		sub.ForcedFacilityID = "kph"
		_, err := h.pipeline.Submit(ctx, sub)
		require.NoError(t, err)
	}

	entry, err := h.pipeline.MoveInQueue(ctx, "b", models.DirectionUp, "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	_, err = h.pipeline.MoveInQueue(ctx, "b", models.DirectionUp, "nurse-1")
	assert.True(t, errors.Is(err, apperrors.ErrMoveRejected))
}

func TestStartTreatment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, minorWalkIn("low"))
	require.NoError(t, err)

	entry, err := h.pipeline.StartTreatment(ctx, "low", "nurse-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateInTreatment, entry.State)
	assert.Contains(t, h.notes.kinds("low"), models.EventTreatmentStarted)
}

func TestOverrideTriage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, sub := range []models.Submission{feverishInfant("high"), minorWalkIn("low")} {
		sub.ForcedFacilityID = "kph"
		_, err := h.pipeline.Submit(ctx, sub)
		require.NoError(t, err)
	}

	res, err := h.pipeline.OverrideTriage(ctx, "low", models.TierCritical, "nurse-1", "chest pain on reassessment", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Triage.Version)
	assert.Equal(t, models.MethodStaffOverride, res.Triage.Method)
	assert.Nil(t, res.Entry)

	q, _ := h.pipeline.GetQueue("kph")
	assert.Equal(t, "high", q[0].SubmissionID, "queue is unchanged without recompute")

	res, err = h.pipeline.OverrideTriage(ctx, "low", models.TierCritical, "nurse-1", "confirmed", true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Triage.Version)
	require.NotNil(t, res.Entry)
	assert.Equal(t, 1, res.Entry.Position)

	q, _ = h.pipeline.GetQueue("kph")
	assert.Equal(t, "low", q[0].SubmissionID)

	latest, ok := h.pipeline.Triage("low")
	require.True(t, ok)
	assert.Equal(t, 3, latest.Version)
	assert.Len(t, h.repo.triage, 4)
}

func TestOverrideTriage_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.OverrideTriage(ctx, "ghost", models.TierHigh, "nurse", "why", true)
	assert.True(t, errors.Is(err, apperrors.ErrEntryNotFound))

	_, err = h.pipeline.Submit(ctx, minorWalkIn("s1"))
	require.NoError(t, err)
	_, err = h.pipeline.OverrideTriage(ctx, "s1", models.TierHigh, "", "why", true)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestRetract(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, cardiac("late"))
	require.NoError(t, err)
	res, err := h.pipeline.Retract(ctx, "late", "caller")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	require.NotNil(t, res.Entry)
	assert.Equal(t, models.StateRemoved, res.Entry.State)

	_, ok := h.coord.Entry("late")
	assert.False(t, ok)
	_, ok = h.pipeline.Triage("late")
	assert.False(t, ok)
}

func TestRetract_WhileInFlightRefusesAdmission(t *testing.T) {
	h := newHarness(t, withClassifierHook(func(h *harness, sub models.Submission) {
		res, err := h.pipeline.Retract(context.Background(), sub.ID, "caller")
		require.NoError(t, err)
		assert.False(t, res.Removed)
	}))
	ctx := context.Background()

	_, err := h.pipeline.Submit(ctx, cardiac("early"))
	assert.True(t, errors.Is(err, apperrors.ErrSubmissionRetracted))
	assert.Empty(t, h.coord.Queue("kph"))
	_, ok := h.pipeline.Triage("early")
	assert.False(t, ok)
}

func TestRetract_UnknownSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Retract(ctx, "ghost", "caller")
	assert.True(t, errors.Is(err, apperrors.ErrEntryNotFound))
	assert.Empty(t, h.notes.kinds("ghost"))

	// Nothing lingers, so the id can still be admitted later.
	res, err := h.pipeline.Submit(ctx, cardiac("ghost"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuePosition)
}

func TestGetQueue_UnknownFacility(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.GetQueue("nowhere")
	assert.True(t, errors.Is(err, apperrors.ErrFacilityNotFound))
	assert.Len(t, h.pipeline.Facilities(), 2)
}

func TestSubmit_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var sub models.Submission
			switch i % 3 {
			case 0:
				sub = cardiac("")
			case 1:
				sub = feverishInfant("")
			default:
				sub = minorWalkIn("")
			}
			sub.ForcedFacilityID = "kph"
			_, err := h.pipeline.Submit(ctx, sub)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	q, err := h.pipeline.GetQueue("kph")
	require.NoError(t, err)
	require.Len(t, q, 20)
	for i, e := range q {
		assert.Equal(t, i+1, e.Position)
		if i > 0 {
			assert.GreaterOrEqual(t, q[i-1].Tier, e.Tier)
		}
	}
}
