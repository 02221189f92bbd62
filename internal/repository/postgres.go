package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

type Postgres struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-repository"}),
	}
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return apperrors.NewQueryExecutionFailedError("migrate", err)
	}
	return nil
}

func (p *Postgres) LoadFacilities(ctx context.Context) ([]models.FacilityRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, capacity, current_load, specialties, locality, active
		FROM facilities
		ORDER BY id`)
	if err != nil {
		return nil, wrap(ctx, "load_facilities", err)
	}
	defer rows.Close()

	var out []models.FacilityRecord
	for rows.Next() {
		var (
			f           models.FacilityRecord
			specialties []byte
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Location.Latitude, &f.Location.Longitude,
			&f.Capacity, &f.CurrentLoad, &specialties, &f.Locality, &f.Active); err != nil {
			return nil, wrap(ctx, "load_facilities", err)
		}
		if len(specialties) > 0 {
			if err := json.Unmarshal(specialties, &f.Specialties); err != nil {
				return nil, apperrors.NewQueryExecutionFailedError("load_facilities",
					fmt.Errorf("facility %s specialties: %w", f.ID, err))
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "load_facilities", err)
	}
	return out, nil
}

// LoadRules returns the active rule table. The set version is the highest
// version among the active rows.
func (p *Postgres) LoadRules(ctx context.Context) (models.RuleSet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, version, priority, tier, category, status, age_bracket, transport_mode, keywords, explanation
		FROM triage_rules
		WHERE active = TRUE
		ORDER BY priority, id`)
	if err != nil {
		return models.RuleSet{}, wrap(ctx, "load_rules", err)
	}
	defer rows.Close()

	var set models.RuleSet
	for rows.Next() {
		var (
			r        models.Rule
			version  string
			tier     string
			keywords []byte
		)
		if err := rows.Scan(&r.ID, &version, &r.Priority, &tier, &r.Category, &r.Status,
			&r.AgeBracket, &r.TransportMode, &keywords, &r.Explanation); err != nil {
			return models.RuleSet{}, wrap(ctx, "load_rules", err)
		}
		if r.Tier, err = models.ParseTier(tier); err != nil {
			return models.RuleSet{}, apperrors.NewValidationError(fmt.Sprintf("rule %s: %v", r.ID, err))
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &r.Keywords); err != nil {
				return models.RuleSet{}, apperrors.NewQueryExecutionFailedError("load_rules",
					fmt.Errorf("rule %s keywords: %w", r.ID, err))
			}
		}
		r.Active = true
		if version > set.Version {
			set.Version = version
		}
		set.Rules = append(set.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return models.RuleSet{}, wrap(ctx, "load_rules", err)
	}
	return set, nil
}

func (p *Postgres) SaveSubmission(ctx context.Context, sub models.Submission) error {
	var lat, lon sql.NullFloat64
	if sub.Location != nil {
		lat = sql.NullFloat64{Float64: sub.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: sub.Location.Longitude, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, description, status, category, age_bracket, transport_mode,
			latitude, longitude, locality, arrived_at, submitted_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		sub.ID, sub.Description, sub.Status, sub.Category, sub.AgeBracket, sub.TransportMode,
		lat, lon, sub.Locality, sub.ArrivedAt, sub.SubmittedBy,
	)
	if err != nil {
		return wrap(ctx, "save_submission", err)
	}
	return nil
}

const upsertQueueEntry = `
	INSERT INTO queue_entries (
		submission_id, facility_id, tier, priority_score, position, sequence,
		estimated_wait_seconds, state, inserted_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (submission_id) DO UPDATE SET
		facility_id = EXCLUDED.facility_id,
		tier = EXCLUDED.tier,
		priority_score = EXCLUDED.priority_score,
		position = EXCLUDED.position,
		sequence = EXCLUDED.sequence,
		estimated_wait_seconds = EXCLUDED.estimated_wait_seconds,
		state = EXCLUDED.state,
		updated_at = EXCLUDED.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertEntry(ctx context.Context, ex execer, e models.QueueEntry) error {
	_, err := ex.ExecContext(ctx, upsertQueueEntry,
		e.SubmissionID, e.FacilityID, e.Tier.String(), e.PriorityScore, e.Position, e.Sequence,
		int(e.EstimatedWait.Seconds()), string(e.State), e.InsertedAt, e.UpdatedAt,
	)
	return err
}

// CommitQueue writes a facility's recomputed queue in one transaction. The
// facility's rows are made to mirror entries: any row not in entries is
// deleted, which covers departed entries as well as rows left behind by an
// earlier process, and every remaining entry is upserted.
func (p *Postgres) CommitQueue(ctx context.Context, facilityID string, entries, removed []models.QueueEntry) error {
	keep := make([]string, 0, len(entries))
	for _, e := range entries {
		keep = append(keep, e.SubmissionID)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	swept, err := tx.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE facility_id = $1 AND NOT (submission_id = ANY($2))`,
		facilityID, pq.Array(keep))
	if err != nil {
		return wrap(ctx, "commit_queue", err)
	}
	for _, e := range entries {
		if err := upsertEntry(ctx, tx, e); err != nil {
			return wrap(ctx, "commit_queue", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap(ctx, "commit_queue", err)
	}

	fields := map[string]interface{}{
		"facilityId": facilityID,
		"entries":    len(entries),
		"removed":    len(removed),
	}
	if n, err := swept.RowsAffected(); err == nil {
		fields["deleted"] = n
		if int(n) > len(removed) {
			p.logger.Info("stale queue rows cleared", fields)
		}
	}
	p.logger.Debug("queue committed", fields)
	return nil
}

// PersistTriageResult appends a result version. Re-persisting the same
// version is a no-op.
func (p *Postgres) PersistTriageResult(ctx context.Context, r models.TriageResult) error {
	explanation, err := json.Marshal(r.Explanation)
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("persist_triage_result", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO triage_results (
			submission_id, version, tier, confidence, method, explanation,
			max_wait_seconds, rule_id, score, actor, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (submission_id, version) DO NOTHING`,
		r.SubmissionID, r.Version, r.Tier.String(), r.Confidence, r.Method, explanation,
		int(r.MaxWait.Seconds()), r.RuleID, r.Score, r.Actor, r.Reason, r.CreatedAt,
	)
	if err != nil {
		return wrap(ctx, "persist_triage_result", err)
	}
	return nil
}

func (p *Postgres) LogEvent(ctx context.Context, event models.Event) error {
	details := make(map[string]interface{}, len(event.Payload)+1)
	for k, v := range event.Payload {
		details[k] = v
	}
	if event.FacilityID != "" {
		details["facilityId"] = event.FacilityID
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		p.logger.Warn("failed to marshal audit details", map[string]interface{}{
			"eventId": event.ID,
			"error":   err.Error(),
		})
		detailsJSON = []byte("{}")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, event_type, subject_id, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Kind, event.SubjectID, event.Actor, detailsJSON, event.OccurredAt,
	)
	if err != nil {
		return wrap(ctx, "log_event", err)
	}
	return nil
}

func wrap(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewQueryTimeoutError(op)
	}
	return apperrors.NewQueryExecutionFailedError(op, err)
}

// WithTimeout bounds a repository call. A zero timeout leaves ctx unchanged.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
