// Package repository persists admission state in postgres and caches the
// read-mostly tables in redis.
package repository

import (
	"context"

	"emergency-admission/internal/models"
)

// Repository is the storage contract of the admission pipeline. Every call
// may fail; callers bound it with a timeout and degrade.
type Repository interface {
	LoadFacilities(ctx context.Context) ([]models.FacilityRecord, error)
	LoadRules(ctx context.Context) (models.RuleSet, error)
	SaveSubmission(ctx context.Context, sub models.Submission) error
	CommitQueue(ctx context.Context, facilityID string, entries, removed []models.QueueEntry) error
	PersistTriageResult(ctx context.Context, result models.TriageResult) error
	LogEvent(ctx context.Context, event models.Event) error
}

// Schema creates the tables used by Postgres. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS facilities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	latitude     DOUBLE PRECISION NOT NULL,
	longitude    DOUBLE PRECISION NOT NULL,
	capacity     INTEGER NOT NULL DEFAULT 0,
	current_load INTEGER NOT NULL DEFAULT 0,
	specialties  JSONB NOT NULL DEFAULT '[]',
	locality     TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS triage_rules (
	id             TEXT PRIMARY KEY,
	version        TEXT NOT NULL,
	priority       INTEGER NOT NULL,
	tier           TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	age_bracket    TEXT NOT NULL DEFAULT '',
	transport_mode TEXT NOT NULL DEFAULT '',
	keywords       JSONB NOT NULL DEFAULT '[]',
	explanation    TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	description    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	age_bracket    TEXT NOT NULL DEFAULT '',
	transport_mode TEXT NOT NULL DEFAULT '',
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	locality       TEXT NOT NULL DEFAULT '',
	arrived_at     TIMESTAMPTZ NOT NULL,
	submitted_by   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS triage_results (
	submission_id    TEXT NOT NULL,
	version          INTEGER NOT NULL,
	tier             TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	method           TEXT NOT NULL,
	explanation      JSONB NOT NULL DEFAULT '[]',
	max_wait_seconds INTEGER NOT NULL,
	rule_id          TEXT NOT NULL DEFAULT '',
	score            DOUBLE PRECISION NOT NULL DEFAULT 0,
	actor            TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (submission_id, version)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	submission_id          TEXT PRIMARY KEY,
	facility_id            TEXT NOT NULL,
	tier                   TEXT NOT NULL,
	priority_score         DOUBLE PRECISION NOT NULL,
	position               INTEGER NOT NULL,
	sequence               BIGINT NOT NULL,
	estimated_wait_seconds INTEGER NOT NULL,
	state                  TEXT NOT NULL,
	inserted_at            TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_facility ON queue_entries (facility_id, position);

CREATE TABLE IF NOT EXISTS audit_log (
	event_id   TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	details    JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
`
