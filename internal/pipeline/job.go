// Package pipeline orchestrates source collection jobs: priority ordering,
// freshness and dependency gating, circuit breaker gating, retried
// execution, and run summary aggregation.
package pipeline

import (
	"context"
	"time"
)

// JobConfig describes one schedulable source job. Supplied by the caller,
// never persisted.
type JobConfig struct {
	// Source is the unique source name, also the circuit breaker key.
	Source string
	// JobType names what the job collects (e.g. "team_stats").
	JobType string
	// Enabled jobs are scheduled; disabled jobs are dropped before sorting.
	Enabled bool
	// Priority orders execution, lower runs earlier. Equal priorities keep
	// their original relative order.
	Priority int
	// MaxAge bounds how old this job's data (and its dependencies' data)
	// may be before a refresh is needed.
	MaxAge time.Duration
	// Dependencies lists sources whose data must be fresh before this job
	// runs. A stale dependency skips the job with a warning.
	Dependencies []string
	// Run executes the job. Retrying is handled by the runner.
	Run func(ctx context.Context) (*JobResult, error)
}

// JobResult is what a job execution reports back to the runner.
type JobResult struct {
	Success          bool
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsFailed    int
	Errors           []string
	Warnings         []string
	Metadata         map[string]any
}
