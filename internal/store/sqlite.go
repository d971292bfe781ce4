package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hooplytics/statsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. All timestamps are
// stored in UTC so that parameter-to-column comparisons stay consistent.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS circuit_states (
	source          TEXT PRIMARY KEY,
	state           TEXT NOT NULL DEFAULT 'closed',
	failure_count   INTEGER NOT NULL DEFAULT 0,
	success_streak  INTEGER NOT NULL DEFAULT 0,
	last_failure_at DATETIME,
	last_success_at DATETIME,
	open_until      DATETIME
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                TEXT PRIMARY KEY,
	run_type          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME,
	sources_attempted INTEGER NOT NULL DEFAULT 0,
	sources_succeeded INTEGER NOT NULL DEFAULT 0,
	sources_failed    INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created   INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	errors            TEXT,
	warnings          TEXT,
	metadata          TEXT
);

CREATE TABLE IF NOT EXISTS job_runs (
	id                TEXT PRIMARY KEY,
	pipeline_run_id   TEXT NOT NULL REFERENCES pipeline_runs(id),
	source            TEXT NOT NULL,
	job_type          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created   INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	records_failed    INTEGER NOT NULL DEFAULT 0,
	errors            TEXT,
	warnings          TEXT,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	metadata          TEXT
);

CREATE TABLE IF NOT EXISTS data_freshness (
	source       TEXT NOT NULL,
	data_type    TEXT NOT NULL,
	updated_at   DATETIME NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, data_type)
);

CREATE TABLE IF NOT EXISTS teams (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL UNIQUE,
	short_name     TEXT NOT NULL,
	group_id       TEXT NOT NULL DEFAULT '',
	external_ids   TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS team_stats (
	team_id     TEXT NOT NULL REFERENCES teams(id),
	source      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	captured_at DATETIME NOT NULL,
	PRIMARY KEY (team_id, source)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_job_runs_pipeline ON job_runs(pipeline_run_id);
CREATE INDEX IF NOT EXISTS idx_job_runs_source ON job_runs(source);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- circuit breaker ---

func (s *SQLiteStore) GetCircuit(ctx context.Context, source string) (*model.CircuitState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, state, failure_count, success_streak, last_failure_at, last_success_at, open_until
		 FROM circuit_states WHERE source = ?`, source)

	var cs model.CircuitState
	var state string
	err := row.Scan(&cs.Source, &state, &cs.FailureCount, &cs.SuccessStreak,
		&cs.LastFailureAt, &cs.LastSuccessAt, &cs.OpenUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get circuit %s", source)
	}
	cs.State = model.CircuitStateName(state)
	return &cs, nil
}

func (s *SQLiteStore) TransitionCircuitHalfOpen(ctx context.Context, source string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE circuit_states SET state = 'half_open', success_streak = 0
		 WHERE source = ? AND state = 'open' AND open_until IS NOT NULL AND open_until <= ?`,
		source, now.UTC())
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: half-open transition %s", source)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordCircuitSuccess(ctx context.Context, source string, successThreshold int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak, last_success_at)
VALUES (?, 'closed', 0, 0, ?)
ON CONFLICT(source) DO UPDATE SET
	last_success_at = ?,
	failure_count = CASE
		WHEN circuit_states.state = 'closed' THEN 0
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= ? THEN 0
		ELSE circuit_states.failure_count END,
	success_streak = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= ? THEN 0
		WHEN circuit_states.state = 'half_open' THEN circuit_states.success_streak + 1
		ELSE circuit_states.success_streak END,
	open_until = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= ? THEN NULL
		ELSE circuit_states.open_until END,
	state = CASE
		WHEN circuit_states.state = 'half_open' AND circuit_states.success_streak + 1 >= ? THEN 'closed'
		ELSE circuit_states.state END`,
		source, now, now,
		successThreshold, successThreshold, successThreshold, successThreshold)
	return eris.Wrapf(err, "sqlite: record circuit success %s", source)
}

func (s *SQLiteStore) RecordCircuitFailure(ctx context.Context, source string, failureThreshold int, openFor time.Duration) (model.CircuitStateName, error) {
	now := time.Now().UTC()
	until := now.Add(openFor)

	var state string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak, last_failure_at, open_until)
VALUES (?, CASE WHEN 1 >= ? THEN 'open' ELSE 'closed' END, 1, 0, ?, CASE WHEN 1 >= ? THEN ? ELSE NULL END)
ON CONFLICT(source) DO UPDATE SET
	failure_count = circuit_states.failure_count + 1,
	last_failure_at = ?,
	success_streak = 0,
	open_until = CASE
		WHEN circuit_states.state = 'half_open'
			OR (circuit_states.state = 'closed' AND circuit_states.failure_count + 1 >= ?) THEN ?
		ELSE circuit_states.open_until END,
	state = CASE
		WHEN circuit_states.state = 'half_open' THEN 'open'
		WHEN circuit_states.state = 'closed' AND circuit_states.failure_count + 1 >= ? THEN 'open'
		ELSE circuit_states.state END
RETURNING state`,
		source, failureThreshold, now, failureThreshold, until,
		now, failureThreshold, until, failureThreshold).Scan(&state)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: record circuit failure %s", source)
	}
	return model.CircuitStateName(state), nil
}

func (s *SQLiteStore) ResetCircuit(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO circuit_states (source, state, failure_count, success_streak)
VALUES (?, 'closed', 0, 0)
ON CONFLICT(source) DO UPDATE SET
	state = 'closed', failure_count = 0, success_streak = 0, open_until = NULL`,
		source)
	return eris.Wrapf(err, "sqlite: reset circuit %s", source)
}

func (s *SQLiteStore) ListCircuits(ctx context.Context) ([]model.CircuitState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, state, failure_count, success_streak, last_failure_at, last_success_at, open_until
		 FROM circuit_states ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list circuits")
	}
	defer rows.Close()

	var states []model.CircuitState
	for rows.Next() {
		var cs model.CircuitState
		var state string
		if err := rows.Scan(&cs.Source, &state, &cs.FailureCount, &cs.SuccessStreak,
			&cs.LastFailureAt, &cs.LastSuccessAt, &cs.OpenUntil); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan circuit")
		}
		cs.State = model.CircuitStateName(state)
		states = append(states, cs)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: list circuits iterate")
}

// --- pipeline runs ---

func (s *SQLiteStore) CreatePipelineRun(ctx context.Context, runType model.RunType) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:        uuid.New().String(),
		RunType:   runType,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, run_type, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(runType), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert pipeline run")
	}
	return run, nil
}

func (s *SQLiteStore) FinalizePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	errsJSON, warnsJSON, metaJSON, err := marshalRunFields(run.Errors, run.Warnings, run.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE pipeline_runs SET
	status = ?, completed_at = ?,
	sources_attempted = ?, sources_succeeded = ?, sources_failed = ?,
	records_processed = ?, records_created = ?, records_updated = ?,
	errors = ?, warnings = ?, metadata = ?
WHERE id = ?`,
		string(run.Status), run.CompletedAt,
		run.SourcesAttempted, run.SourcesSucceeded, run.SourcesFailed,
		run.RecordsProcessed, run.RecordsCreated, run.RecordsUpdated,
		errsJSON, warnsJSON, metaJSON, run.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize pipeline run %s", run.ID)
	}
	return checkRowsAffected(res, "pipeline run", run.ID)
}

func (s *SQLiteStore) GetPipelineRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, run_type, status, started_at, completed_at,
	sources_attempted, sources_succeeded, sources_failed,
	records_processed, records_created, records_updated,
	errors, warnings, metadata
FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanPipelineRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "pipeline run %s", id)
	}
	return run, err
}

func (s *SQLiteStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `
SELECT id, run_type, status, started_at, completed_at,
	sources_attempted, sources_succeeded, sources_failed,
	records_processed, records_created, records_updated,
	errors, warnings, metadata
FROM pipeline_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RunType != "" {
		query += ` AND run_type = ?`
		args = append(args, string(filter.RunType))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipeline runs")
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
	return runs, eris.Wrap(rows.Err(), "sqlite: list pipeline runs iterate")
}

func (s *SQLiteStore) CreateJobRun(ctx context.Context, pipelineRunID, source, jobType string) (*model.JobRun, error) {
	jr := &model.JobRun{
		ID:            uuid.New().String(),
		PipelineRunID: pipelineRunID,
		Source:        source,
		JobType:       jobType,
		Status:        model.JobStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, pipeline_run_id, source, job_type, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jr.ID, jr.PipelineRunID, jr.Source, jr.JobType, string(jr.Status), jr.StartedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job run for %s", source)
	}
	return jr, nil
}

func (s *SQLiteStore) FinalizeJobRun(ctx context.Context, jr *model.JobRun) error {
	errsJSON, warnsJSON, metaJSON, err := marshalRunFields(jr.Errors, jr.Warnings, jr.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE job_runs SET
	status = ?, completed_at = ?, duration_ms = ?,
	records_processed = ?, records_created = ?, records_updated = ?, records_failed = ?,
	errors = ?, warnings = ?, retry_count = ?, metadata = ?
WHERE id = ?`,
		string(jr.Status), jr.CompletedAt, jr.DurationMs,
		jr.RecordsProcessed, jr.RecordsCreated, jr.RecordsUpdated, jr.RecordsFailed,
		errsJSON, warnsJSON, jr.RetryCount, metaJSON, jr.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize job run %s", jr.ID)
	}
	return checkRowsAffected(res, "job run", jr.ID)
}

func (s *SQLiteStore) ListJobRuns(ctx context.Context, pipelineRunID string) ([]model.JobRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, pipeline_run_id, source, job_type, status, started_at, completed_at, duration_ms,
	records_processed, records_created, records_updated, records_failed,
	errors, warnings, retry_count, metadata
FROM job_runs WHERE pipeline_run_id = ? ORDER BY started_at`, pipelineRunID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job runs")
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
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		jr.Status = model.JobStatus(status)
		if err := unmarshalRunFields(errsJSON, warnsJSON, metaJSON, &jr.Errors, &jr.Warnings, &jr.Metadata); err != nil {
			return nil, err
		}
		jobRuns = append(jobRuns, jr)
	}
	return jobRuns, eris.Wrap(rows.Err(), "sqlite: list job runs iterate")
}

// --- freshness ---

func (s *SQLiteStore) IsDataFresh(ctx context.Context, source, dataType string, maxAge time.Duration) (bool, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM data_freshness WHERE source = ? AND data_type = ?`,
		source, dataType).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: freshness for %s/%s", source, dataType)
	}
	return time.Since(updatedAt) <= maxAge, nil
}

func (s *SQLiteStore) UpdateFreshness(ctx context.Context, source, dataType string, recordCount int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO data_freshness (source, data_type, updated_at, record_count)
VALUES (?, ?, ?, ?)
ON CONFLICT(source, data_type) DO UPDATE SET updated_at = excluded.updated_at, record_count = excluded.record_count`,
		source, dataType, time.Now().UTC(), recordCount)
	return eris.Wrapf(err, "sqlite: update freshness %s/%s", source, dataType)
}

func (s *SQLiteStore) ListFreshness(ctx context.Context) ([]model.Freshness, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, data_type, updated_at, record_count FROM data_freshness ORDER BY source, data_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list freshness")
	}
	defer rows.Close()

	var entries []model.Freshness
	for rows.Next() {
		var f model.Freshness
		if err := rows.Scan(&f.Source, &f.DataType, &f.UpdatedAt, &f.RecordCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan freshness")
		}
		entries = append(entries, f)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list freshness iterate")
}

func (s *SQLiteStore) DeleteStaleFreshness(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM data_freshness WHERE updated_at < ?`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale freshness")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- teams ---

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, canonical_name, short_name, group_id, external_ids FROM teams ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list teams")
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
	return teams, eris.Wrap(rows.Err(), "sqlite: list teams iterate")
}

func (s *SQLiteStore) GetTeamByCanonicalName(ctx context.Context, canonicalName string) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, canonical_name, short_name, group_id, external_ids FROM teams WHERE canonical_name = ?`,
		canonicalName)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "team %q", canonicalName)
	}
	return t, err
}

func (s *SQLiteStore) InsertTeam(ctx context.Context, team *model.Team) error {
	idsJSON, err := json.Marshal(team.ExternalIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal external ids")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO teams (id, canonical_name, short_name, group_id, external_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		team.ID, team.CanonicalName, team.ShortName, team.GroupID, string(idsJSON), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrDuplicateTeam, "canonical name %q", team.CanonicalName)
		}
		return eris.Wrapf(err, "sqlite: insert team %q", team.CanonicalName)
	}
	return nil
}

func (s *SQLiteStore) UpdateTeamExternalIDs(ctx context.Context, teamID string, externalIDs map[string]string) error {
	idsJSON, err := json.Marshal(externalIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal external ids")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET external_ids = ?, updated_at = ? WHERE id = ?`,
		string(idsJSON), time.Now().UTC(), teamID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update team %s external ids", teamID)
	}
	return checkRowsAffected(res, "team", teamID)
}

// --- team stats ---

func (s *SQLiteStore) UpsertTeamStats(ctx context.Context, stats []model.TeamStat) (int, int, error) {
	var created, updated int
	for _, st := range stats {
		payloadJSON, err := json.Marshal(st.Payload)
		if err != nil {
			return created, updated, eris.Wrap(err, "sqlite: marshal stat payload")
		}

		var exists bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM team_stats WHERE team_id = ? AND source = ?)`,
			st.TeamID, st.Source).Scan(&exists)
		if err != nil {
			return created, updated, eris.Wrap(err, "sqlite: check stat existence")
		}

		_, err = s.db.ExecContext(ctx, `
INSERT INTO team_stats (team_id, source, payload, captured_at) VALUES (?, ?, ?, ?)
ON CONFLICT(team_id, source) DO UPDATE SET payload = excluded.payload, captured_at = excluded.captured_at`,
			st.TeamID, st.Source, string(payloadJSON), st.CapturedAt.UTC())
		if err != nil {
			return created, updated, eris.Wrapf(err, "sqlite: upsert stat for team %s", st.TeamID)
		}
		if exists {
			updated++
		} else {
			created++
		}
	}
	return created, updated, nil
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPipelineRun(row scannable) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var runType, status string
	var errsJSON, warnsJSON, metaJSON sql.NullString

	err := row.Scan(&run.ID, &runType, &status, &run.StartedAt, &run.CompletedAt,
		&run.SourcesAttempted, &run.SourcesSucceeded, &run.SourcesFailed,
		&run.RecordsProcessed, &run.RecordsCreated, &run.RecordsUpdated,
		&errsJSON, &warnsJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan pipeline run")
	}
	run.RunType = model.RunType(runType)
	run.Status = model.RunStatus(status)
	if err := unmarshalRunFields(errsJSON, warnsJSON, metaJSON, &run.Errors, &run.Warnings, &run.Metadata); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanTeam(row scannable) (*model.Team, error) {
	var t model.Team
	var idsJSON string
	err := row.Scan(&t.ID, &t.CanonicalName, &t.ShortName, &t.GroupID, &idsJSON)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan team")
	}
	if err := json.Unmarshal([]byte(idsJSON), &t.ExternalIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal external ids")
	}
	return &t, nil
}

func marshalRunFields(errs, warns []string, meta map[string]any) (errsJSON, warnsJSON, metaJSON sql.NullString, err error) {
	if len(errs) > 0 {
		b, mErr := json.Marshal(errs)
		if mErr != nil {
			return errsJSON, warnsJSON, metaJSON, eris.Wrap(mErr, "marshal errors")
		}
		errsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(warns) > 0 {
		b, mErr := json.Marshal(warns)
		if mErr != nil {
			return errsJSON, warnsJSON, metaJSON, eris.Wrap(mErr, "marshal warnings")
		}
		warnsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(meta) > 0 {
		b, mErr := json.Marshal(meta)
		if mErr != nil {
			return errsJSON, warnsJSON, metaJSON, eris.Wrap(mErr, "marshal metadata")
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}
	return errsJSON, warnsJSON, metaJSON, nil
}

func unmarshalRunFields(errsJSON, warnsJSON, metaJSON sql.NullString, errs, warns *[]string, meta *map[string]any) error {
	if errsJSON.Valid {
		if err := json.Unmarshal([]byte(errsJSON.String), errs); err != nil {
			return eris.Wrap(err, "unmarshal errors")
		}
	}
	if warnsJSON.Valid {
		if err := json.Unmarshal([]byte(warnsJSON.String), warns); err != nil {
			return eris.Wrap(err, "unmarshal warnings")
		}
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), meta); err != nil {
			return eris.Wrap(err, "unmarshal metadata")
		}
	}
	return nil
}
