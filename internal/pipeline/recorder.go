package pipeline

import (
	"context"
	"sync"
	"time"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
	"emergency-admission/internal/repository"
)

const (
	defaultRecorderWorkers = 1
	defaultRecorderBuffer  = 1024
)

type eventLog interface {
	LogEvent(ctx context.Context, event models.Event) error
}

// recorder writes events to the audit log and the search mirror off the
// admission path. Each job is the batch of events produced by one mutation.
// record never blocks: when the buffer is full the batch is dropped.
type recorder struct {
	store   eventLog
	auditor Auditor
	timeout time.Duration
	workers int
	jobs    chan []models.Event
	logger  logger.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func newRecorder(store eventLog, auditor Auditor, opts Options, log logger.Logger) *recorder {
	workers := opts.RecorderWorkers
	if workers <= 0 {
		workers = defaultRecorderWorkers
	}
	buffer := opts.RecorderBuffer
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &recorder{
		store:   store,
		auditor: auditor,
		timeout: opts.StoreTimeout,
		workers: workers,
		jobs:    make(chan []models.Event, buffer),
		logger:  log,
	}
}

// start launches the writers. Writes run on ctx; the workers keep draining
// until stop closes the buffer even when ctx is already cancelled.
func (r *recorder) start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for batch := range r.jobs {
				r.write(ctx, batch)
			}
		}()
	}
}

func (r *recorder) record(events ...models.Event) bool {
	if len(events) == 0 || (r.store == nil && r.auditor == nil) {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}

	select {
	case r.jobs <- events:
		return true
	default:
		r.logger.Warn("event buffer full, dropping", map[string]interface{}{
			"kind":         events[0].Kind,
			"submissionId": events[0].SubjectID,
			"events":       len(events),
		})
		return false
	}
}

func (r *recorder) write(ctx context.Context, batch []models.Event) {
	for _, event := range batch {
		if r.store != nil {
			logCtx, cancel := repository.WithTimeout(ctx, r.timeout)
			if err := r.store.LogEvent(logCtx, event); err != nil {
				r.logger.Warn("failed to write audit log", map[string]interface{}{
					"eventId":      event.ID,
					"kind":         event.Kind,
					"submissionId": event.SubjectID,
					"error":        err.Error(),
				})
			}
			cancel()
		}

		if r.auditor != nil {
			idxCtx, cancel := repository.WithTimeout(ctx, r.timeout)
			if err := r.auditor.Index(idxCtx, event); err != nil {
				r.logger.Warn("failed to index event", map[string]interface{}{
					"eventId": event.ID,
					"kind":    event.Kind,
					"error":   err.Error(),
				})
			}
			cancel()
		}
	}
}

// stop closes the buffer and waits for queued batches to be written.
func (r *recorder) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
}
