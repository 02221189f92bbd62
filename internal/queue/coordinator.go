package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"emergency-admission/internal/common/config"
	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/common/metrics"
	"emergency-admission/internal/models"
)

// Committer persists a facility's recomputed queue in one transaction.
// removed holds entries that left the queue in the same mutation.
type Committer interface {
	CommitQueue(ctx context.Context, facilityID string, entries, removed []models.QueueEntry) error
}

// Facilities is the part of the facility directory the coordinator needs.
type Facilities interface {
	Get(id string) (models.FacilityRecord, bool)
	AdjustLoad(id string, delta int)
}

// Observer receives position changes after the facility lock is released.
type Observer func(changes []models.PositionChange)

type Options struct {
	ServiceMinutes map[string]int
	CommitTimeout  time.Duration
}

func OptionsFrom(c config.QueueConfig) Options {
	return Options{
		ServiceMinutes: c.ServiceMinutes,
		CommitTimeout:  config.GetTimeout(c.CommitTimeout, 2*time.Second),
	}
}

// Coordinator owns one ordered queue per facility. Every mutation runs the
// change, the reorder and the commit inside a single facility-scoped
// critical section. Facilities are independent of each other.
type Coordinator struct {
	facilities    Facilities
	committer     Committer
	service       map[models.Tier]time.Duration
	commitTimeout time.Duration
	logger        logger.Logger
	now           func() time.Time

	mu        sync.RWMutex
	queues    map[string]*facilityQueue
	index     map[string]string // submission id -> facility id, reserved before commit
	inflight  map[string]bool
	retracted map[string]bool
	pending   []models.PendingSubmission
	observer  Observer
}

type admitted struct {
	submission models.Submission
	travel     time.Duration
}

type facilityQueue struct {
	id       string
	mu       sync.Mutex
	entries  []models.QueueEntry
	admitted map[string]admitted
	seq      int64
	snapshot atomic.Pointer[[]models.QueueEntry]
}

type mutation struct {
	entries []models.QueueEntry
	removed []models.QueueEntry
	full    bool
}

func NewCoordinator(facilities Facilities, committer Committer, opts Options, log logger.Logger) *Coordinator {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 2 * time.Second
	}
	service := make(map[models.Tier]time.Duration, len(models.AllTiers))
	for _, t := range models.AllTiers {
		minutes := opts.ServiceMinutes[t.String()]
		if minutes <= 0 {
			minutes = 20
		}
		service[t] = time.Duration(minutes) * time.Minute
	}
	return &Coordinator{
		facilities:    facilities,
		committer:     committer,
		service:       service,
		commitTimeout: opts.CommitTimeout,
		logger:        log.WithFields(map[string]interface{}{"component": "queue-coordinator"}),
		now:           func() time.Time { return time.Now().UTC() },
		queues:        make(map[string]*facilityQueue),
		index:         make(map[string]string),
		inflight:      make(map[string]bool),
		retracted:     make(map[string]bool),
	}
}

// SetObserver installs the position-change callback. Call before use.
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Admit computes the priority score and inserts the submission. Admitting a
// submission that is already active at the same facility returns the
// existing entry.
func (c *Coordinator) Admit(ctx context.Context, sub models.Submission, facilityID string, tier models.Tier, travel time.Duration) (models.QueueEntry, error) {
	if sub.ID == "" {
		return models.QueueEntry{}, apperrors.NewValidationError("submission id is required")
	}
	if !tier.Valid() {
		return models.QueueEntry{}, apperrors.NewValidationError(fmt.Sprintf("invalid tier %d", int(tier)))
	}
	if _, ok := c.facilities.Get(facilityID); !ok {
		return models.QueueEntry{}, apperrors.NewFacilityNotFoundError(facilityID)
	}

	fq := c.queueFor(facilityID)
	fq.mu.Lock()
	entry, changes, err := c.admitLocked(ctx, fq, sub, tier, travel)
	fq.mu.Unlock()

	c.notify(changes)
	return entry, err
}

func (c *Coordinator) admitLocked(ctx context.Context, fq *facilityQueue, sub models.Submission, tier models.Tier, travel time.Duration) (models.QueueEntry, []models.PositionChange, error) {
	c.mu.Lock()
	if owner, ok := c.index[sub.ID]; ok {
		c.mu.Unlock()
		if owner == fq.id {
			if i := indexOf(fq.entries, sub.ID); i >= 0 {
				return fq.entries[i], nil, nil
			}
		}
		return models.QueueEntry{}, nil, apperrors.NewAdmissionFailedError(sub.ID,
			fmt.Errorf("submission already active at facility %s", owner))
	}
	c.index[sub.ID] = fq.id
	c.mu.Unlock()

	now := c.now()
	entry := models.QueueEntry{
		SubmissionID:  sub.ID,
		FacilityID:    fq.id,
		Tier:          tier,
		PriorityScore: PriorityScore(sub, tier, travel, now),
		InsertedAt:    now,
		Sequence:      fq.seq + 1,
		State:         models.StateQueued,
	}

	before := positionsOf(fq.entries)
	next := cloneEntries(fq.entries)
	at := insertionIndex(next, entry)
	next = append(next, models.QueueEntry{})
	copy(next[at+1:], next[at:])
	next[at] = entry

	next, err := c.settle(fq.id, next, now, false)
	if err != nil {
		c.release(sub.ID)
		return models.QueueEntry{}, nil, err
	}

	if c.consumeRetraction(sub.ID) {
		c.release(sub.ID)
		c.logger.Info("admission skipped for retracted submission", map[string]interface{}{
			"submissionId": sub.ID,
			"facilityId":   fq.id,
		})
		return models.QueueEntry{}, nil, apperrors.NewSubmissionRetractedError(sub.ID)
	}

	if err := c.commit(ctx, fq.id, next, nil); err != nil {
		c.release(sub.ID)
		c.addPending(sub, fq.id, err)
		return models.QueueEntry{}, nil, apperrors.NewAdmissionFailedError(sub.ID, err)
	}

	fq.seq = entry.Sequence
	fq.admitted[sub.ID] = admitted{submission: sub, travel: travel}
	c.install(fq, next)
	c.dropPending(sub.ID)
	c.facilities.AdjustLoad(fq.id, 1)

	entry = next[indexOf(next, sub.ID)]
	c.logger.Info("submission admitted", map[string]interface{}{
		"submissionId":  sub.ID,
		"facilityId":    fq.id,
		"tier":          tier.String(),
		"priorityScore": entry.PriorityScore,
		"position":      entry.Position,
		"queueDepth":    len(next),
	})
	return entry, diffPositions(fq.id, before, next), nil
}

// Reorder recomputes a facility queue from scratch and commits it.
func (c *Coordinator) Reorder(ctx context.Context, facilityID string) ([]models.QueueEntry, error) {
	if _, ok := c.facilities.Get(facilityID); !ok {
		return nil, apperrors.NewFacilityNotFoundError(facilityID)
	}

	fq := c.queueFor(facilityID)
	fq.mu.Lock()
	before := positionsOf(fq.entries)
	now := c.now()
	next := cloneEntries(fq.entries)
	next, err := c.settle(facilityID, next, now, true)
	if err == nil {
		if err = c.commit(ctx, facilityID, next, nil); err == nil {
			c.install(fq, next)
		} else {
			err = apperrors.NewAdmissionFailedError("", err).WithMetadata("facilityId", facilityID)
		}
	}
	fq.mu.Unlock()

	if err != nil {
		return nil, err
	}
	c.notify(diffPositions(facilityID, before, next))
	return cloneEntries(next), nil
}

// Remove takes the entry out of its queue. The completed reason ends in
// the Completed state, every other reason in Removed.
func (c *Coordinator) Remove(ctx context.Context, submissionID, reason string) (models.QueueEntry, error) {
	if !models.ValidRemovalReason(reason) {
		return models.QueueEntry{}, apperrors.NewValidationError(fmt.Sprintf("invalid removal reason %q", reason))
	}
	return c.mutateEntry(ctx, submissionID, "remove", func(entries []models.QueueEntry, i int, now time.Time) (mutation, error) {
		e := entries[i]
		e.State = models.StateRemoved
		if reason == models.ReasonCompleted {
			e.State = models.StateCompleted
		}
		e.RemovalReason = reason
		e.Position = 0
		e.EstimatedWait = 0
		e.UpdatedAt = now

		rest := append(entries[:i:i], entries[i+1:]...)
		return mutation{entries: rest, removed: []models.QueueEntry{e}}, nil
	})
}

// Move swaps the entry with its neighbour. Moves across tiers or past an
// entry in treatment are rejected.
func (c *Coordinator) Move(ctx context.Context, submissionID, direction string) (models.QueueEntry, error) {
	var step int
	switch direction {
	case models.DirectionUp:
		step = -1
	case models.DirectionDown:
		step = 1
	default:
		return models.QueueEntry{}, apperrors.NewValidationError(fmt.Sprintf("invalid direction %q", direction))
	}

	return c.mutateEntry(ctx, submissionID, "move", func(entries []models.QueueEntry, i int, now time.Time) (mutation, error) {
		j := i + step
		if j < 0 || j >= len(entries) {
			return mutation{}, apperrors.NewMoveRejectedError(submissionID, "entry is already at the "+edge(step))
		}
		a, b := entries[i], entries[j]
		if a.State == models.StateInTreatment || b.State == models.StateInTreatment {
			return mutation{}, apperrors.NewMoveRejectedError(submissionID, "entries in treatment cannot be moved past")
		}
		if a.Tier != b.Tier {
			return mutation{}, apperrors.NewMoveRejectedError(submissionID,
				fmt.Sprintf("%s entry cannot pass %s entry %s", a.Tier, b.Tier, b.SubmissionID))
		}

		a.Sequence, b.Sequence = b.Sequence, a.Sequence
		entries[i], entries[j] = b, a
		return mutation{entries: entries}, nil
	})
}

func edge(step int) string {
	if step < 0 {
		return "front"
	}
	return "back"
}

// StartTreatment moves a queued entry into treatment, pinning it ahead of
// waiting entries.
func (c *Coordinator) StartTreatment(ctx context.Context, submissionID string) (models.QueueEntry, error) {
	return c.mutateEntry(ctx, submissionID, "start-treatment", func(entries []models.QueueEntry, i int, now time.Time) (mutation, error) {
		if entries[i].State != models.StateQueued {
			return mutation{}, apperrors.NewInvalidTransitionError(submissionID,
				string(entries[i].State), string(models.StateInTreatment))
		}
		entries[i].State = models.StateInTreatment
		return mutation{entries: entries, full: true}, nil
	})
}

// Reprioritize applies a new tier to an active entry and reorders.
func (c *Coordinator) Reprioritize(ctx context.Context, submissionID string, tier models.Tier) (models.QueueEntry, error) {
	if !tier.Valid() {
		return models.QueueEntry{}, apperrors.NewValidationError(fmt.Sprintf("invalid tier %d", int(tier)))
	}
	return c.mutateEntry(ctx, submissionID, "reprioritize", func(entries []models.QueueEntry, i int, now time.Time) (mutation, error) {
		entries[i].Tier = tier
		return mutation{entries: entries, full: true}, nil
	})
}

// Expect marks a submission as on its way to Admit so that a retraction
// arriving first can refuse it. Forget ends the window and drops any
// unconsumed retraction.
func (c *Coordinator) Expect(submissionID string) {
	c.mu.Lock()
	c.inflight[submissionID] = true
	c.mu.Unlock()
}

func (c *Coordinator) Forget(submissionID string) {
	c.mu.Lock()
	delete(c.inflight, submissionID)
	delete(c.retracted, submissionID)
	c.mu.Unlock()
}

// Retract removes an active entry with reason transferred. An expected
// submission that is not yet admitted is marked so that its admission is
// refused before commit, and a pending one is dropped. The boolean reports
// whether an entry was removed. Unknown ids are EntryNotFound.
func (c *Coordinator) Retract(ctx context.Context, submissionID string) (models.QueueEntry, bool, error) {
	c.mu.Lock()
	if _, active := c.index[submissionID]; !active {
		if c.inflight[submissionID] {
			c.retracted[submissionID] = true
			c.mu.Unlock()
			c.logger.Info("submission marked retracted", map[string]interface{}{"submissionId": submissionID})
			return models.QueueEntry{}, false, nil
		}
		c.mu.Unlock()
		if c.dropPending(submissionID) {
			c.logger.Info("pending submission retracted", map[string]interface{}{"submissionId": submissionID})
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, apperrors.NewEntryNotFoundError(submissionID)
	}
	c.mu.Unlock()

	entry, err := c.Remove(ctx, submissionID, models.ReasonTransferred)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (c *Coordinator) mutateEntry(ctx context.Context, submissionID, op string, fn func([]models.QueueEntry, int, time.Time) (mutation, error)) (models.QueueEntry, error) {
	c.mu.RLock()
	facilityID, ok := c.index[submissionID]
	c.mu.RUnlock()
	if !ok {
		return models.QueueEntry{}, apperrors.NewEntryNotFoundError(submissionID)
	}

	fq := c.queueFor(facilityID)
	fq.mu.Lock()
	i := indexOf(fq.entries, submissionID)
	if i < 0 {
		fq.mu.Unlock()
		return models.QueueEntry{}, apperrors.NewEntryNotFoundError(submissionID)
	}

	before := positionsOf(fq.entries)
	now := c.now()
	m, err := fn(cloneEntries(fq.entries), i, now)
	if err != nil {
		fq.mu.Unlock()
		return models.QueueEntry{}, err
	}

	for k := range m.entries {
		if m.entries[k].SubmissionID == submissionID {
			m.entries[k].PriorityScore = c.rescore(fq, m.entries[k], now)
		}
	}

	next, err := c.settle(facilityID, m.entries, now, m.full)
	if err != nil {
		fq.mu.Unlock()
		return models.QueueEntry{}, err
	}
	if err := c.commit(ctx, facilityID, next, m.removed); err != nil {
		fq.mu.Unlock()
		return models.QueueEntry{}, apperrors.NewAdmissionFailedError(submissionID, err).WithMetadata("operation", op)
	}

	c.install(fq, next)
	for _, r := range m.removed {
		delete(fq.admitted, r.SubmissionID)
		c.release(r.SubmissionID)
		c.facilities.AdjustLoad(facilityID, -1)
	}
	changes := diffPositions(facilityID, before, next)
	fq.mu.Unlock()

	var subject models.QueueEntry
	if j := indexOf(next, submissionID); j >= 0 {
		subject = next[j]
	} else {
		for _, r := range m.removed {
			if r.SubmissionID == submissionID {
				subject = r
			}
		}
	}

	c.logger.Info("queue entry updated", map[string]interface{}{
		"operation":    op,
		"submissionId": submissionID,
		"facilityId":   facilityID,
		"state":        subject.State,
		"position":     subject.Position,
	})
	c.notify(changes)
	return subject, nil
}

// rescore refreshes the displayed priority after a tier change. Removed
// entries keep their last score.
func (c *Coordinator) rescore(fq *facilityQueue, e models.QueueEntry, now time.Time) float64 {
	a, ok := fq.admitted[e.SubmissionID]
	if !ok {
		return e.PriorityScore
	}
	return PriorityScore(a.submission, e.Tier, a.travel, now)
}

// settle renumbers a mutated queue and checks the ordering invariant. A
// violation is logged and answered with a full recomputation.
func (c *Coordinator) settle(facilityID string, entries []models.QueueEntry, now time.Time, full bool) ([]models.QueueEntry, error) {
	metrics.QueueReorders.WithLabelValues(facilityID).Inc()
	if full {
		sortEntries(entries)
	}
	renumber(entries, c.service, now)

	err := checkInvariant(entries)
	if err == nil {
		return entries, nil
	}

	metrics.InvariantViolations.Inc()
	c.logger.Error("queue invariant violated, recomputing from scratch", map[string]interface{}{
		"facilityId": facilityID,
		"error":      err.Error(),
	})

	clean := cloneEntries(entries)
	sortEntries(clean)
	renumber(clean, c.service, now)
	if err := checkInvariant(clean); err != nil {
		return nil, apperrors.NewQueueInvariantViolationError(facilityID, err.Error())
	}
	return clean, nil
}

// commit calls the committer with one retry, each attempt bounded by the
// commit timeout.
func (c *Coordinator) commit(ctx context.Context, facilityID string, entries, removed []models.QueueEntry) error {
	if c.committer == nil {
		return nil
	}

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
		err = c.committer.CommitQueue(attemptCtx, facilityID, entries, removed)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Warn("queue commit failed", map[string]interface{}{
			"facilityId": facilityID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (c *Coordinator) install(fq *facilityQueue, entries []models.QueueEntry) {
	fq.entries = entries
	snap := cloneEntries(entries)
	fq.snapshot.Store(&snap)
	metrics.QueueDepth.WithLabelValues(fq.id).Set(float64(len(entries)))
}

func (c *Coordinator) queueFor(facilityID string) *facilityQueue {
	c.mu.RLock()
	fq, ok := c.queues[facilityID]
	c.mu.RUnlock()
	if ok {
		return fq
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fq, ok = c.queues[facilityID]; !ok {
		fq = &facilityQueue{id: facilityID, admitted: make(map[string]admitted)}
		c.queues[facilityID] = fq
	}
	return fq
}

func (c *Coordinator) release(submissionID string) {
	c.mu.Lock()
	delete(c.index, submissionID)
	c.mu.Unlock()
}

func (c *Coordinator) consumeRetraction(submissionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.retracted[submissionID] {
		return false
	}
	delete(c.retracted, submissionID)
	return true
}

func (c *Coordinator) addPending(sub models.Submission, facilityID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.Submission.ID == sub.ID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.pending = append(c.pending, models.PendingSubmission{
		Submission: sub,
		FacilityID: facilityID,
		Error:      err.Error(),
		FailedAt:   c.now(),
	})
	c.logger.Error("admission failed, submission kept pending", map[string]interface{}{
		"submissionId": sub.ID,
		"facilityId":   facilityID,
		"error":        err.Error(),
	})
}

func (c *Coordinator) dropPending(submissionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.Submission.ID == submissionID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) notify(changes []models.PositionChange) {
	if len(changes) == 0 {
		return
	}
	c.mu.RLock()
	o := c.observer
	c.mu.RUnlock()
	if o != nil {
		o(changes)
	}
}

// Queue returns the last committed order for a facility without taking
// the facility lock.
func (c *Coordinator) Queue(facilityID string) []models.QueueEntry {
	c.mu.RLock()
	fq, ok := c.queues[facilityID]
	c.mu.RUnlock()
	if !ok {
		return []models.QueueEntry{}
	}
	snap := fq.snapshot.Load()
	if snap == nil {
		return []models.QueueEntry{}
	}
	return cloneEntries(*snap)
}

// Entry returns the active entry for a submission.
func (c *Coordinator) Entry(submissionID string) (models.QueueEntry, bool) {
	c.mu.RLock()
	facilityID, ok := c.index[submissionID]
	c.mu.RUnlock()
	if !ok {
		return models.QueueEntry{}, false
	}
	for _, e := range c.Queue(facilityID) {
		if e.SubmissionID == submissionID {
			return e, true
		}
	}
	return models.QueueEntry{}, false
}

// Pending lists submissions whose admission could not be committed.
func (c *Coordinator) Pending() []models.PendingSubmission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.PendingSubmission(nil), c.pending...)
}

func indexOf(entries []models.QueueEntry, submissionID string) int {
	for i, e := range entries {
		if e.SubmissionID == submissionID {
			return i
		}
	}
	return -1
}
