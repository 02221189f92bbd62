package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgres_LoadFacilities(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	mock.ExpectQuery("SELECT id, name, latitude, longitude, capacity, current_load, specialties, locality, active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "latitude", "longitude", "capacity", "current_load", "specialties", "locality", "active"}).
			AddRow("kph", "Kingston Public", 17.9714, -76.792, 120, 40, []byte(`["trauma","icu"]`), "kingston", true).
			AddRow("sja", "St Ann's Bay", 18.4359, -77.2006, 60, 10, []byte(`[]`), "st-ann", false))

	facilities, err := repo.LoadFacilities(context.Background())
	require.NoError(t, err)
	require.Len(t, facilities, 2)
	assert.Equal(t, []string{"trauma", "icu"}, facilities[0].Specialties)
	assert.Equal(t, 40, facilities[0].CurrentLoad)
	assert.InDelta(t, -76.792, facilities[0].Location.Longitude, 1e-9)
	assert.False(t, facilities[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadFacilities_QueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	mock.ExpectQuery("FROM facilities").WillReturnError(errors.New("relation does not exist"))

	_, err := repo.LoadFacilities(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueryExecutionFailed, apperrors.CodeOf(err))
}

func TestPostgres_LoadRules(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	columns := []string{"id", "version", "priority", "tier", "category", "status", "age_bracket", "transport_mode", "keywords", "explanation"}
	mock.ExpectQuery("FROM triage_rules").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("cardiac", "2026-01", 10, "critical", "heart-attack", "", "", "", []byte(`["unconscious"]`), "cardiac event").
			AddRow("minor", "2026-02", 90, "low", "", "", "", "walk-in", []byte(`["sprain"]`), ""))

	set, err := repo.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-02", set.Version)
	require.Len(t, set.Rules, 2)
	assert.Equal(t, models.TierCritical, set.Rules[0].Tier)
	assert.Equal(t, []string{"unconscious"}, set.Rules[0].Keywords)
	assert.True(t, set.Rules[1].Active)
	assert.Equal(t, "walk-in", set.Rules[1].TransportMode)
}

func TestPostgres_LoadRules_InvalidTier(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	columns := []string{"id", "version", "priority", "tier", "category", "status", "age_bracket", "transport_mode", "keywords", "explanation"}
	mock.ExpectQuery("FROM triage_rules").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("bad", "1", 1, "urgent", "", "", "", "", []byte(`[]`), ""))

	_, err := repo.LoadRules(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestPostgres_CommitQueue(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []models.QueueEntry{
		{SubmissionID: "a", FacilityID: "kph", Tier: models.TierCritical, Position: 1, Sequence: 2, State: models.StateQueued, InsertedAt: now, UpdatedAt: now},
		{SubmissionID: "b", FacilityID: "kph", Tier: models.TierHigh, Position: 2, Sequence: 1, EstimatedWait: 45 * time.Minute, State: models.StateQueued, InsertedAt: now, UpdatedAt: now},
	}
	removed := []models.QueueEntry{{SubmissionID: "gone", FacilityID: "kph", State: models.StateCompleted}}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM queue_entries WHERE facility_id = \$1`).
		WithArgs("kph", pq.Array([]string{"a", "b"})).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO queue_entries").
		WithArgs("a", "kph", "critical", 0.0, 1, int64(2), 0, "queued", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO queue_entries").
		WithArgs("b", "kph", "high", 0.0, 2, int64(1), 2700, "queued", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CommitQueue(context.Background(), "kph", entries, removed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitQueue_RollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM queue_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	err := repo.CommitQueue(context.Background(), "kph", []models.QueueEntry{{SubmissionID: "a", Tier: models.TierLow}}, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueryExecutionFailed, apperrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitQueue_ClearsRowsFromEarlierRun(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// First commit after a restart: the new queue holds only "fresh", while
	// three rows from the previous process are still in the table.
	entries := []models.QueueEntry{
		{SubmissionID: "fresh", FacilityID: "kph", Tier: models.TierHigh, Position: 1, Sequence: 1, State: models.StateQueued, InsertedAt: now, UpdatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM queue_entries WHERE facility_id = \$1 AND NOT \(submission_id = ANY\(\$2\)\)`).
		WithArgs("kph", pq.Array([]string{"fresh"})).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO queue_entries").
		WithArgs("fresh", "kph", "high", 0.0, 1, int64(1), 0, "queued", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CommitQueue(context.Background(), "kph", entries, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CommitQueue_EmptyQueueClearsFacility(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())

	removed := []models.QueueEntry{{SubmissionID: "last", FacilityID: "kph", State: models.StateCompleted}}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM queue_entries WHERE facility_id").
		WithArgs("kph", pq.Array([]string{})).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CommitQueue(context.Background(), "kph", nil, removed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PersistTriageResult(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO triage_results").
		WithArgs("s1", 2, "high", 1.0, models.MethodStaffOverride, []byte(`["reviewed by charge nurse"]`),
			900, "", 0.0, "nurse-7", "reviewed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.PersistTriageResult(context.Background(), models.TriageResult{
		SubmissionID: "s1", Version: 2, Tier: models.TierHigh, Confidence: 1, Method: models.MethodStaffOverride,
		Explanation: []string{"reviewed by charge nurse"}, MaxWait: 15 * time.Minute,
		Actor: "nurse-7", Reason: "reviewed", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveSubmission_NoLocation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO submissions").
		WithArgs("s1", "", "conscious", "fall", "", "", nil, nil, "", now, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveSubmission(context.Background(), models.Submission{ID: "s1", Status: "conscious", Category: "fall", ArrivedAt: now})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LogEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgres(db, logger.NewNoOpLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	payload := map[string]interface{}{"tier": "critical"}
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("evt-1", models.EventFacilityAssigned, "s1", "system", []byte(`{"facilityId":"kph","tier":"critical"}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.LogEvent(context.Background(), models.Event{
		ID: "evt-1", Kind: models.EventFacilityAssigned, SubjectID: "s1", FacilityID: "kph",
		Actor: "system", Payload: payload, OccurredAt: now,
	})
	require.NoError(t, err)
	assert.NotContains(t, payload, "facilityId")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWrap_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := wrap(ctx, "load_rules", errors.New("canceling statement"))
	assert.Equal(t, apperrors.ErrCodeQueryTimeout, apperrors.CodeOf(err))
}
