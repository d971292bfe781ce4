// Package model defines the shared data types for the statsync pipeline:
// pipeline and job run records, circuit breaker state, teams, and the
// resolution results produced by the team resolver.
package model

import "time"

// RunType identifies the kind of pipeline run.
type RunType string

const (
	RunTypeFull        RunType = "full"
	RunTypeIncremental RunType = "incremental"
	RunTypeValidation  RunType = "validation"
	RunTypeBackfill    RunType = "backfill"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusFailed         RunStatus = "failed"
)

// JobStatus is the lifecycle status of a single job run.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// PipelineRun records one orchestrator invocation. Jobs skipped for
// freshness, dependency, or circuit reasons are never counted as attempted,
// so SourcesAttempted == SourcesSucceeded + SourcesFailed always holds.
type PipelineRun struct {
	ID               string         `json:"id"`
	RunType          RunType        `json:"run_type"`
	Status           RunStatus      `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	SourcesAttempted int            `json:"sources_attempted"`
	SourcesSucceeded int            `json:"sources_succeeded"`
	SourcesFailed    int            `json:"sources_failed"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsCreated   int            `json:"records_created"`
	RecordsUpdated   int            `json:"records_updated"`
	Errors           []string       `json:"errors,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// JobRun records one job execution within a pipeline run.
type JobRun struct {
	ID               string         `json:"id"`
	PipelineRunID    string         `json:"pipeline_run_id"`
	Source           string         `json:"source"`
	JobType          string         `json:"job_type"`
	Status           JobStatus      `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsCreated   int            `json:"records_created"`
	RecordsUpdated   int            `json:"records_updated"`
	RecordsFailed    int            `json:"records_failed"`
	Errors           []string       `json:"errors,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	RetryCount       int            `json:"retry_count"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// CircuitStateName is one of the three circuit breaker states.
type CircuitStateName string

const (
	CircuitClosed   CircuitStateName = "closed"
	CircuitOpen     CircuitStateName = "open"
	CircuitHalfOpen CircuitStateName = "half_open"
)

// CircuitState is the persisted circuit breaker row for one source.
// Absence of a row is equivalent to closed with a zero failure count.
// OpenUntil is set whenever State is open.
type CircuitState struct {
	Source        string           `json:"source"`
	State         CircuitStateName `json:"state"`
	FailureCount  int              `json:"failure_count"`
	SuccessStreak int              `json:"success_streak"`
	LastFailureAt *time.Time       `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time       `json:"last_success_at,omitempty"`
	OpenUntil     *time.Time       `json:"open_until,omitempty"`
}

// Team is the canonical entity that free-text names from all sources
// resolve to. ExternalIDs maps a source name to the raw identifier that
// source uses for this team; within one source an external id maps to
// exactly one team.
type Team struct {
	ID            string            `json:"id"`
	CanonicalName string            `json:"canonical_name"`
	ShortName     string            `json:"short_name"`
	// GroupID scopes the team to a league or competition. Empty means the
	// team is global and matchable from any group.
	GroupID     string            `json:"group_id,omitempty"`
	ExternalIDs map[string]string `json:"external_ids"`
}

// Confidence describes how a team resolution was reached.
type Confidence string

const (
	ConfidenceExact   Confidence = "exact"
	ConfidenceFuzzy   Confidence = "fuzzy"
	ConfidenceCreated Confidence = "created"
)

// Resolution is the result of resolving a raw team name.
type Resolution struct {
	TeamID     string     `json:"team_id"`
	WasCreated bool       `json:"was_created"`
	Confidence Confidence `json:"confidence"`
}

// TeamStat is one upserted stat line for a team from one source.
type TeamStat struct {
	TeamID     string         `json:"team_id"`
	Source     string         `json:"source"`
	Payload    map[string]any `json:"payload"`
	CapturedAt time.Time      `json:"captured_at"`
}

// Freshness records when data for a (source, data type) pair was last
// collected, and how many records that collection produced.
type Freshness struct {
	Source      string    `json:"source"`
	DataType    string    `json:"data_type"`
	UpdatedAt   time.Time `json:"updated_at"`
	RecordCount int       `json:"record_count"`
}

// DataTypeGeneric is the data type used when checking a dependency's
// freshness without knowing which job type produced it.
const DataTypeGeneric = "data"
