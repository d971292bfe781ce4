package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/resilience"
)

// RunStore is the persistence the runner needs: run records plus the
// freshness oracle. store.Store satisfies it.
type RunStore interface {
	CreatePipelineRun(ctx context.Context, runType model.RunType) (*model.PipelineRun, error)
	FinalizePipelineRun(ctx context.Context, run *model.PipelineRun) error
	CreateJobRun(ctx context.Context, pipelineRunID, source, jobType string) (*model.JobRun, error)
	FinalizeJobRun(ctx context.Context, jr *model.JobRun) error
	IsDataFresh(ctx context.Context, source, dataType string, maxAge time.Duration) (bool, error)
	UpdateFreshness(ctx context.Context, source, dataType string, recordCount int) error
}

// CircuitGate is the circuit breaker surface the runner consults.
// resilience.Breaker satisfies it.
type CircuitGate interface {
	IsAvailable(ctx context.Context, source string) bool
	RecordSuccess(ctx context.Context, source string)
	RecordFailure(ctx context.Context, source string) model.CircuitStateName
}

// Runner executes a batch of source jobs sequentially. It has no retry
// logic of its own; each job runs under resilience.WithAutoRetryVal, and the
// runner's only resilience behaviors are skip-gating and per-job failure
// isolation.
type Runner struct {
	store   RunStore
	circuit CircuitGate
}

// NewRunner creates a Runner over the given store and circuit breaker.
func NewRunner(store RunStore, circuit CircuitGate) *Runner {
	return &Runner{store: store, circuit: circuit}
}

// Run filters and priority-sorts the jobs, executes each through the gates,
// and returns the finalized pipeline run. Skipped jobs (stale dependency,
// already-fresh incremental data, open circuit) are never counted as
// attempted, so SourcesAttempted == SourcesSucceeded + SourcesFailed.
func (r *Runner) Run(ctx context.Context, jobs []JobConfig, runType model.RunType) (*model.PipelineRun, error) {
	run, err := r.store.CreatePipelineRun(ctx, runType)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("run_type", string(runType)))
	log.Info("pipeline run started", zap.Int("jobs", len(jobs)))

	var scheduled []JobConfig
	for _, job := range jobs {
		if job.Enabled {
			scheduled = append(scheduled, job)
		}
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		return scheduled[i].Priority < scheduled[j].Priority
	})

	for _, job := range scheduled {
		switch {
		case !r.dependenciesFresh(ctx, job):
			run.Warnings = append(run.Warnings, fmt.Sprintf("Skipped %s: dependencies not satisfied", job.Source))
			log.Warn("job skipped, stale dependency", zap.String("source", job.Source))
			continue
		case runType == model.RunTypeIncremental && r.ownDataFresh(ctx, job):
			log.Debug("job skipped, data already fresh", zap.String("source", job.Source))
			continue
		case !r.circuit.IsAvailable(ctx, job.Source):
			run.Warnings = append(run.Warnings, fmt.Sprintf("Skipped %s: circuit breaker is open", job.Source))
			log.Warn("job skipped, circuit open", zap.String("source", job.Source))
			continue
		}

		run.SourcesAttempted++
		r.executeJob(ctx, run, job, log)
	}

	switch {
	case run.SourcesFailed == 0:
		run.Status = model.RunStatusCompleted
	case run.SourcesSucceeded > 0:
		run.Status = model.RunStatusPartialSuccess
	default:
		run.Status = model.RunStatusFailed
	}
	now := time.Now().UTC()
	run.CompletedAt = &now

	if err := r.store.FinalizePipelineRun(ctx, run); err != nil {
		return nil, eris.Wrapf(err, "pipeline: finalize run %s", run.ID)
	}
	log.Info("pipeline run finished",
		zap.String("status", string(run.Status)),
		zap.Int("attempted", run.SourcesAttempted),
		zap.Int("succeeded", run.SourcesSucceeded),
		zap.Int("failed", run.SourcesFailed))
	return run, nil
}

// dependenciesFresh reports whether every dependency's data is fresh within
// the job's max age. Oracle errors count as stale.
func (r *Runner) dependenciesFresh(ctx context.Context, job JobConfig) bool {
	for _, dep := range job.Dependencies {
		fresh, err := r.store.IsDataFresh(ctx, dep, model.DataTypeGeneric, job.MaxAge)
		if err != nil {
			zap.L().Warn("freshness check failed, treating as stale",
				zap.String("source", job.Source), zap.String("dependency", dep), zap.Error(err))
			return false
		}
		if !fresh {
			return false
		}
	}
	return true
}

func (r *Runner) ownDataFresh(ctx context.Context, job JobConfig) bool {
	fresh, err := r.store.IsDataFresh(ctx, job.Source, job.JobType, job.MaxAge)
	if err != nil {
		zap.L().Warn("freshness check failed, treating as stale",
			zap.String("source", job.Source), zap.Error(err))
		return false
	}
	return fresh
}

func (r *Runner) executeJob(ctx context.Context, run *model.PipelineRun, job JobConfig, log *zap.Logger) {
	jr, err := r.store.CreateJobRun(ctx, run.ID, job.Source, job.JobType)
	if err != nil {
		// Bookkeeping failure: the job itself never ran, count it failed
		// and move on rather than aborting the batch.
		run.SourcesFailed++
		run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", job.Source, err))
		log.Error("job run create failed", zap.String("source", job.Source), zap.Error(err))
		return
	}

	start := time.Now()
	var retryCount int
	result, runErr := resilience.WithAutoRetryVal(ctx, resilience.RetryOptions{
		OnRetry: func(attempt int, err error, category resilience.ErrorCategory) {
			retryCount = attempt
			resilience.RetryLogger(job.Source, job.JobType)(attempt, err, category)
		},
	}, func(ctx context.Context) (*JobResult, error) {
		return job.Run(ctx)
	})
	duration := time.Since(start)

	jr.DurationMs = duration.Milliseconds()
	jr.RetryCount = retryCount
	now := time.Now().UTC()
	jr.CompletedAt = &now

	if runErr == nil && result != nil && result.Success {
		run.SourcesSucceeded++
		run.RecordsProcessed += result.RecordsProcessed
		run.RecordsCreated += result.RecordsCreated
		run.RecordsUpdated += result.RecordsUpdated
		run.Warnings = append(run.Warnings, result.Warnings...)

		jr.Status = model.JobStatusCompleted
		jr.RecordsProcessed = result.RecordsProcessed
		jr.RecordsCreated = result.RecordsCreated
		jr.RecordsUpdated = result.RecordsUpdated
		jr.RecordsFailed = result.RecordsFailed
		jr.Warnings = result.Warnings
		jr.Metadata = result.Metadata

		r.circuit.RecordSuccess(ctx, job.Source)
		if err := r.store.UpdateFreshness(ctx, job.Source, job.JobType, result.RecordsProcessed); err != nil {
			log.Warn("freshness update failed", zap.String("source", job.Source), zap.Error(err))
		}
		log.Info("job completed",
			zap.String("source", job.Source),
			zap.Int("records", result.RecordsProcessed),
			zap.Duration("duration", duration))
	} else {
		run.SourcesFailed++
		jr.Status = model.JobStatusFailed

		var messages []string
		if runErr != nil {
			messages = append(messages, fmt.Sprintf("%s: %v", job.Source, runErr))
		}
		if result != nil {
			for _, e := range result.Errors {
				messages = append(messages, fmt.Sprintf("%s: %s", job.Source, e))
			}
			jr.RecordsProcessed = result.RecordsProcessed
			jr.RecordsFailed = result.RecordsFailed
		}
		if len(messages) == 0 {
			messages = append(messages, fmt.Sprintf("%s: job reported failure", job.Source))
		}
		run.Errors = append(run.Errors, messages...)
		jr.Errors = messages

		state := r.circuit.RecordFailure(ctx, job.Source)
		log.Error("job failed",
			zap.String("source", job.Source),
			zap.Strings("errors", messages),
			zap.Int("retries", retryCount),
			zap.String("circuit_state", string(state)))
	}

	if err := r.store.FinalizeJobRun(ctx, jr); err != nil {
		log.Warn("job run finalize failed", zap.String("source", job.Source), zap.Error(err))
	}
}
