package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hooplytics/statsync/internal/db"
	"github.com/hooplytics/statsync/internal/model"
)

// PostgresStore implements Store on a pgx pool. The pool is held behind the
// db.Pool interface so tests can substitute pgxmock.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to the given Postgres DSN and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS circuit_states (
	source          TEXT PRIMARY KEY,
	state           TEXT NOT NULL DEFAULT 'closed',
	failure_count   INTEGER NOT NULL DEFAULT 0,
	success_streak  INTEGER NOT NULL DEFAULT 0,
	last_failure_at TIMESTAMPTZ,
	last_success_at TIMESTAMPTZ,
	open_until      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                TEXT PRIMARY KEY,
	run_type          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	sources_attempted INTEGER NOT NULL DEFAULT 0,
	sources_succeeded INTEGER NOT NULL DEFAULT 0,
	sources_failed    INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created   INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	errors            JSONB,
	warnings          JSONB,
	metadata          JSONB
);

CREATE TABLE IF NOT EXISTS job_runs (
	id                TEXT PRIMARY KEY,
	pipeline_run_id   TEXT NOT NULL REFERENCES pipeline_runs(id),
	source            TEXT NOT NULL,
	job_type          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created   INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	records_failed    INTEGER NOT NULL DEFAULT 0,
	errors            JSONB,
	warnings          JSONB,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	metadata          JSONB
);

CREATE TABLE IF NOT EXISTS data_freshness (
	source       TEXT NOT NULL,
	data_type    TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, data_type)
);

CREATE TABLE IF NOT EXISTS teams (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL UNIQUE,
	short_name     TEXT NOT NULL,
	group_id       TEXT NOT NULL DEFAULT '',
	external_ids   JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS team_stats (
	team_id     TEXT NOT NULL REFERENCES teams(id),
	source      TEXT NOT NULL,
	payload     JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (team_id, source)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_job_runs_pipeline ON job_runs(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_job_runs_source ON job_runs(source);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- circuit breaker ---

func (s *PostgresStore) GetCircuit(ctx context.Context, source string) (*model.CircuitState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source, state, failure_count, success_streak, last_failure_at, last_success_at, open_until
		 FROM circuit_states WHERE source = $1`, source)

	var cs model.CircuitState
	var state string
	err := row.Scan(&cs.Source, &state, &cs.FailureCount, &cs.SuccessStreak,
		&cs.LastFailureAt, &cs.LastSuccessAt, &cs.OpenUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get circuit %s", source)
	}
	cs.State = model.CircuitStateName(state)
	return &cs, nil
}

func (s *PostgresStore) TransitionCircuitHalfOpen(ctx context.Context, source string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE circuit_states SET state = 'half_open', success_streak = 0
		 WHERE source = $1 AND state = 'open' AND open_until IS NOT NULL AND open_until <= $2`,
		source, now.UTC())
	if err != nil {
		return false, eris.Wrapf(err, "postgres: half-open transition %s", source)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RecordCircuitSuccess(ctx context.Context, source string, successThreshold int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak, last_success_at)
VALUES ($1, 'closed', 0, 0, $2)
ON CONFLICT (source) DO UPDATE SET
	last_success_at = $2,
	failure_count = CASE
		WHEN circuit_states.state = 'closed' THEN 0
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= $3 THEN 0
		ELSE circuit_states.failure_count END,
	success_streak = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= $3 THEN 0
		WHEN circuit_states.state = 'half_open' THEN circuit_states.success_streak + 1
		ELSE circuit_states.success_streak END,
	open_until = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= $3 THEN NULL
		ELSE circuit_states.open_until END,
	state = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= $3 THEN 'closed'
		ELSE circuit_states.state END`,
		source, time.Now().UTC(), successThreshold)
	return eris.Wrapf(err, "postgres: record circuit success %s", source)
}

func (s *PostgresStore) RecordCircuitFailure(ctx context.Context, source string, failureThreshold int, openFor time.Duration) (model.CircuitStateName, error) {
	now := time.Now().UTC()
	until := now.Add(openFor)

	var state string
	err := s.pool.QueryRow(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak, last_failure_at, open_until)
VALUES ($1, CASE WHEN 1 >= $2 THEN 'open' ELSE 'closed' END, 1, 0, $3, CASE WHEN 1 >= $2 THEN $4 END)
ON CONFLICT (source) DO UPDATE SET
	failure_count = circuit_states.failure_count + 1,
	last_failure_at = $3,
	success_streak = 0,
	open_until = CASE
		WHEN circuit_states.state = 'half_open'
			OR (circuit_states.state = 'closed' AND circuit_states.failure_count + 1 >= $2) THEN $4
		ELSE circuit_states.open_until END,
	state = CASE
		WHEN circuit_states.state = 'half_open' THEN 'open'
		WHEN circuit_states.state = 'closed' AND circuit_states.failure_count + 1 >= $2 THEN 'open'
		ELSE circuit_states.state END
RETURNING state`,
		source, failureThreshold, now, until).Scan(&state)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: record circuit failure %s", source)
	}
	return model.CircuitStateName(state), nil
}

func (s *PostgresStore) ResetCircuit(ctx context.Context, source string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak)
VALUES ($1, 'closed', 0, 0)
ON CONFLICT (source) DO UPDATE SET
	state = 'closed', failure_count = 0, success_streak = 0, open_until = NULL`,
		source)
	return eris.Wrapf(err, "postgres: reset circuit %s", source)
}

func (s *PostgresStore) ListCircuits(ctx context.Context) ([]model.CircuitState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, state, failure_count, success_streak, last_failure_at, last_success_at, open_until
		 FROM circuit_states ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list circuits")
	}
	defer rows.Close()

	var states []model.CircuitState
	for rows.Next() {
		var cs model.CircuitState
		var state string
		if err := rows.Scan(&cs.Source, &state, &cs.FailureCount, &cs.SuccessStreak,
			&cs.LastFailureAt, &cs.LastSuccessAt, &cs.OpenUntil); err != nil {
			return nil, eris.Wrap(err, "postgres: scan circuit")
		}
		cs.State = model.CircuitStateName(state)
		states = append(states, cs)
	}
	return states, eris.Wrap(rows.Err(), "postgres: list circuits iterate")
}

// --- pipeline runs ---

func (s *PostgresStore) CreatePipelineRun(ctx context.Context, runType model.RunType) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:        uuid.New().String(),
		RunType:   runType,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, run_type, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(runType), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert pipeline run")
	}
	return run, nil
}

func (s *PostgresStore) FinalizePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	errsJSON, warnsJSON, metaJSON, err := marshalRunFields(run.Errors, run.Warnings, run.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE pipeline_runs SET
	status = $1, completed_at = $2,
	sources_attempted = $3, sources_succeeded = $4, sources_failed = $5,
	records_processed = $6, records_created = $7, records_updated = $8,
	errors = $9, warnings = $10, metadata = $11
WHERE id = $12`,
		string(run.Status), run.CompletedAt,
		run.SourcesAttempted, run.SourcesSucceeded, run.SourcesFailed,
		run.RecordsProcessed, run.RecordsCreated, run.RecordsUpdated,
		errsJSON, warnsJSON, metaJSON, run.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize pipeline run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pipeline run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetPipelineRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, run_type, status, started_at, completed_at,
	sources_attempted, sources_succeeded, sources_failed,
	records_processed, records_created, records_updated,
	errors, warnings, metadata
FROM pipeline_runs WHERE id = $1`, id)
	run, err := scanPipelineRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "pipeline run %s", id)
	}
	return run, err
}

func (s *PostgresStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `
SELECT id, run_type, status, started_at, completed_at,
	sources_attempted, sources_succeeded, sources_failed,
	records_processed, records_created, records_updated,
	errors, warnings, metadata
FROM pipeline_runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.RunType != "" {
		query += ` AND run_type = ` + arg(string(filter.RunType))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipeline runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list pipeline runs iterate")
}

func (s *PostgresStore) CreateJobRun(ctx context.Context, pipelineRunID, source, jobType string) (*model.JobRun, error) {
	jr := &model.JobRun{
		ID:            uuid.New().String(),
		PipelineRunID: pipelineRunID,
		Source:        source,
		JobType:       jobType,
		Status:        model.JobStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, pipeline_run_id, source, job_type, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		jr.ID, jr.PipelineRunID, jr.Source, jr.JobType, string(jr.Status), jr.StartedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job run for %s", source)
	}
	return jr, nil
}

func (s *PostgresStore) FinalizeJobRun(ctx context.Context, jr *model.JobRun) error {
	errsJSON, warnsJSON, metaJSON, err := marshalRunFields(jr.Errors, jr.Warnings, jr.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE job_runs SET
	status = $1, completed_at = $2, duration_ms = $3,
	records_processed = $4, records_created = $5, records_updated = $6, records_failed = $7,
	errors = $8, warnings = $9, retry_count = $10, metadata = $11
WHERE id = $12`,
		string(jr.Status), jr.CompletedAt, jr.DurationMs,
		jr.RecordsProcessed, jr.RecordsCreated, jr.RecordsUpdated, jr.RecordsFailed,
		errsJSON, warnsJSON, jr.RetryCount, metaJSON, jr.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize job run %s", jr.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job run %s", jr.ID)
	}
	return nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, pipelineRunID string) ([]model.JobRun, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, pipeline_run_id, source, job_type, status, started_at, completed_at, duration_ms,
	records_processed, records_created, records_updated, records_failed,
	errors, warnings, retry_count, metadata
FROM job_runs WHERE pipeline_run_id = $1 ORDER BY started_at`, pipelineRunID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job runs")
	}
	defer rows.Close()

	var jobRuns []model.JobRun
	for rows.Next() {
		var jr model.JobRun
		var status string
		var errsJSON, warnsJSON, metaJSON sql.NullString
		if err := rows.Scan(&jr.ID, &jr.PipelineRunID, &jr.Source, &jr.JobType, &status,
			&jr.StartedAt, &jr.CompletedAt, &jr.DurationMs,
			&jr.RecordsProcessed, &jr.RecordsCreated, &jr.RecordsUpdated, &jr.RecordsFailed,
			&errsJSON, &warnsJSON, &jr.RetryCount, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		jr.Status = model.JobStatus(status)
		if err := unmarshalRunFields(errsJSON, warnsJSON, metaJSON, &jr.Errors, &jr.Warnings, &jr.Metadata); err != nil {
			return nil, err
		}
		jobRuns = append(jobRuns, jr)
	}
	return jobRuns, eris.Wrap(rows.Err(), "postgres: list job runs iterate")
}

// --- freshness ---

func (s *PostgresStore) IsDataFresh(ctx context.Context, source, dataType string, maxAge time.Duration) (bool, error) {
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT updated_at FROM data_freshness WHERE source = $1 AND data_type = $2`,
		source, dataType).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: freshness for %s/%s", source, dataType)
	}
	return time.Since(updatedAt) <= maxAge, nil
}

func (s *PostgresStore) UpdateFreshness(ctx context.Context, source, dataType string, recordCount int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO data_freshness (source, data_type, updated_at, record_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source, data_type) DO UPDATE SET updated_at = EXCLUDED.updated_at, record_count = EXCLUDED.record_count`,
		source, dataType, time.Now().UTC(), recordCount)
	return eris.Wrapf(err, "postgres: update freshness %s/%s", source, dataType)
}

func (s *PostgresStore) ListFreshness(ctx context.Context) ([]model.Freshness, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, data_type, updated_at, record_count FROM data_freshness ORDER BY source, data_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list freshness")
	}
	defer rows.Close()

	var entries []model.Freshness
	for rows.Next() {
		var f model.Freshness
		if err := rows.Scan(&f.Source, &f.DataType, &f.UpdatedAt, &f.RecordCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan freshness")
		}
		entries = append(entries, f)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list freshness iterate")
}

func (s *PostgresStore) DeleteStaleFreshness(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM data_freshness WHERE updated_at < $1`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale freshness")
	}
	return int(tag.RowsAffected()), nil
}

// --- teams ---

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, canonical_name, short_name, group_id, external_ids FROM teams ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list teams")
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, eris.Wrap(rows.Err(), "postgres: list teams iterate")
}

func (s *PostgresStore) GetTeamByCanonicalName(ctx context.Context, canonicalName string) (*model.Team, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, canonical_name, short_name, group_id, external_ids FROM teams WHERE canonical_name = $1`,
		canonicalName)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "team %q", canonicalName)
	}
	return t, err
}

func (s *PostgresStore) InsertTeam(ctx context.Context, team *model.Team) error {
	idsJSON, err := json.Marshal(team.ExternalIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal external ids")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO teams (id, canonical_name, short_name, group_id, external_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		team.ID, team.CanonicalName, team.ShortName, team.GroupID, string(idsJSON), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateTeam, "canonical name %q", team.CanonicalName)
		}
		return eris.Wrapf(err, "postgres: insert team %q", team.CanonicalName)
	}
	return nil
}

func (s *PostgresStore) UpdateTeamExternalIDs(ctx context.Context, teamID string, externalIDs map[string]string) error {
	idsJSON, err := json.Marshal(externalIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal external ids")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET external_ids = $1, updated_at = $2 WHERE id = $3`,
		string(idsJSON), time.Now().UTC(), teamID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update team %s external ids", teamID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "team %s", teamID)
	}
	return nil
}

// --- team stats ---

func (s *PostgresStore) UpsertTeamStats(ctx context.Context, stats []model.TeamStat) (int, int, error) {
	var created, updated int
	for _, st := range stats {
		payloadJSON, err := json.Marshal(st.Payload)
		if err != nil {
			return created, updated, eris.Wrap(err, "postgres: marshal stat payload")
		}

		// xmax = 0 distinguishes a fresh insert from a conflict update.
		var inserted bool
		err = s.pool.QueryRow(ctx, `
INSERT INTO team_stats (team_id, source, payload, captured_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (team_id, source) DO UPDATE SET payload = EXCLUDED.payload, captured_at = EXCLUDED.captured_at
RETURNING (xmax = 0)`,
			st.TeamID, st.Source, string(payloadJSON), st.CapturedAt.UTC()).Scan(&inserted)
		if err != nil {
			return created, updated, eris.Wrapf(err, "postgres: upsert stat for team %s", st.TeamID)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

