package notification

import (
	"context"
	"sync"
	"time"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/common/metrics"
)

const (
	defaultWorkers    = 2
	defaultBufferSize = 256
	defaultTimeout    = 5 * time.Second
)

type DispatcherOptions struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// Dispatcher delivers notifications on a fixed pool of goroutines. Dispatch
// never blocks: when the buffer is full the notification is dropped.
type Dispatcher struct {
	gateway Gateway
	opts    DispatcherOptions
	jobs    chan Notification
	logger  logger.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(gateway Gateway, opts DispatcherOptions, log logger.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Dispatcher{
		gateway: gateway,
		opts:    opts,
		jobs:    make(chan Notification, opts.BufferSize),
		logger:  log.WithFields(map[string]interface{}{"component": "notification-dispatcher"}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 1; i <= d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("notification dispatcher started", map[string]interface{}{
		"workers":    d.opts.Workers,
		"bufferSize": d.opts.BufferSize,
	})
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.jobs:
			if !ok {
				return
			}
			d.deliver(ctx, id, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, workerID int, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	if err := d.gateway.Notify(sendCtx, n.SubmissionID, n.Kind, n.Payload); err != nil {
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "failed").Inc()
		d.logger.Warn("notification delivery failed", map[string]interface{}{
			"worker":       workerID,
			"submissionId": n.SubmissionID,
			"kind":         n.Kind,
			"error":        err.Error(),
		})
		return
	}
	metrics.NotificationsTotal.WithLabelValues(n.Kind, "sent").Inc()
}

// Dispatch enqueues n and reports whether it was accepted.
func (d *Dispatcher) Dispatch(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "dropped").Inc()
		return false
	}

	select {
	case d.jobs <- n:
		return true
	default:
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "dropped").Inc()
		d.logger.Warn("notification buffer full, dropping", map[string]interface{}{
			"submissionId": n.SubmissionID,
			"kind":         n.Kind,
		})
		return false
	}
}

// Stop closes the buffer and waits for queued notifications to drain.
// Later Dispatch calls are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped", nil)
}
