package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

func TestRecorder_WritesBatchesAndDrainsOnStop(t *testing.T) {
	repo := &fakeRepository{}
	audit := &fakeAuditor{}
	r := newRecorder(repo, audit, Options{StoreTimeout: time.Second}, logger.NewNoOpLogger())
	r.start(context.Background())

	require.True(t, r.record(
		models.Event{ID: "e1", SubjectID: "s1"},
		models.Event{ID: "e2", SubjectID: "s2"},
	))
	require.True(t, r.record(models.Event{ID: "e3", SubjectID: "s1"}))
	r.stop()

	assert.Len(t, repo.events, 3)
	assert.Len(t, audit.indexed, 3)
	assert.False(t, r.record(models.Event{ID: "late"}))
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	auditor := &blockingAuditor{release: make(chan struct{})}
	r := newRecorder(nil, auditor, Options{StoreTimeout: time.Second, RecorderBuffer: 1}, logger.NewNoOpLogger())
	r.start(context.Background())

	require.True(t, r.record(models.Event{ID: "first"}))
	require.Eventually(t, func() bool { return auditor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, r.record(models.Event{ID: "buffered"}))
	assert.False(t, r.record(models.Event{ID: "dropped"}))

	close(auditor.release)
	r.stop()
	assert.Equal(t, int32(2), auditor.calls.Load())
}

func TestRecorder_NoSinksIsNoOp(t *testing.T) {
	r := newRecorder(nil, nil, Options{}, logger.NewNoOpLogger())
	assert.True(t, r.record(models.Event{ID: "e1"}))
	r.stop()
}
