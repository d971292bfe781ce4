// Package store defines the persistence contracts for the statsync
// pipeline and provides SQLite and Postgres implementations. Circuit
// breaker transitions are single conditional statements so they stay
// atomic under concurrent pipeline runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hooplytics/statsync/internal/model"
)

// ErrDuplicateTeam is returned by InsertTeam when another writer already
// created a team with the same canonical name. Callers re-query and alias
// onto the winner instead of erroring.
var ErrDuplicateTeam = eris.New("store: duplicate team")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	RunType model.RunType   `json:"run_type,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store is the full persistence interface for the pipeline. It subsumes
// resilience.CircuitStore, the pipeline's freshness oracle and run
// persistence, and the resolver's team store.
type Store interface {
	// Circuit breaker state (see resilience.CircuitStore).
	GetCircuit(ctx context.Context, source string) (*model.CircuitState, error)
	TransitionCircuitHalfOpen(ctx context.Context, source string, now time.Time) (bool, error)
	RecordCircuitSuccess(ctx context.Context, source string, successThreshold int) error
	RecordCircuitFailure(ctx context.Context, source string, failureThreshold int, openFor time.Duration) (model.CircuitStateName, error)
	ResetCircuit(ctx context.Context, source string) error
	ListCircuits(ctx context.Context) ([]model.CircuitState, error)

	// Pipeline and job runs.
	CreatePipelineRun(ctx context.Context, runType model.RunType) (*model.PipelineRun, error)
	FinalizePipelineRun(ctx context.Context, run *model.PipelineRun) error
	GetPipelineRun(ctx context.Context, id string) (*model.PipelineRun, error)
	ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	CreateJobRun(ctx context.Context, pipelineRunID, source, jobType string) (*model.JobRun, error)
	FinalizeJobRun(ctx context.Context, jr *model.JobRun) error
	ListJobRuns(ctx context.Context, pipelineRunID string) ([]model.JobRun, error)

	// Freshness oracle.
	IsDataFresh(ctx context.Context, source, dataType string, maxAge time.Duration) (bool, error)
	UpdateFreshness(ctx context.Context, source, dataType string, recordCount int) error
	ListFreshness(ctx context.Context) ([]model.Freshness, error)
	DeleteStaleFreshness(ctx context.Context, olderThan time.Duration) (int, error)

	// Teams (resolver persistence).
	ListTeams(ctx context.Context) ([]model.Team, error)
	GetTeamByCanonicalName(ctx context.Context, canonicalName string) (*model.Team, error)
	InsertTeam(ctx context.Context, team *model.Team) error
	UpdateTeamExternalIDs(ctx context.Context, teamID string, externalIDs map[string]string) error

	// Team stats written by source collectors.
	UpsertTeamStats(ctx context.Context, stats []model.TeamStat) (created, updated int, err error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
