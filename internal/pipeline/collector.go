package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Collector is the capability interface every source collector implements:
// a fixed scrape -> validate -> transform -> save workflow. R is the raw
// scraped record type, T the canonical storage record type.
type Collector[R, T any] interface {
	// JobType names what this collector produces.
	JobType() string
	// Scrape fetches raw records from the source.
	Scrape(ctx context.Context) ([]R, error)
	// Validate filters raw records, returning the valid subset. Dropping
	// records is not an error.
	Validate(ctx context.Context, records []R) ([]R, error)
	// Transform maps valid raw records to canonical storage records.
	Transform(ctx context.Context, records []R) ([]T, error)
	// Save persists canonical records and reports counts.
	Save(ctx context.Context, records []T) (created, updated int, err error)
}

// RunCollector drives a collector through the fixed workflow with uniform
// logging, and shapes the outcome as a JobResult.
func RunCollector[R, T any](ctx context.Context, source string, c Collector[R, T]) (*JobResult, error) {
	log := zap.L().With(zap.String("source", source), zap.String("job_type", c.JobType()))
	start := time.Now()

	raw, err := c.Scrape(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: scrape", source)
	}
	log.Debug("scraped", zap.Int("records", len(raw)))

	valid, err := c.Validate(ctx, raw)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: validate", source)
	}
	dropped := len(raw) - len(valid)
	if dropped > 0 {
		log.Warn("records dropped in validation", zap.Int("dropped", dropped))
	}

	canonical, err := c.Transform(ctx, valid)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: transform", source)
	}

	created, updated, err := c.Save(ctx, canonical)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: save", source)
	}

	log.Info("collection finished",
		zap.Int("processed", len(canonical)),
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Duration("duration", time.Since(start)))

	result := &JobResult{
		Success:          true,
		RecordsProcessed: len(canonical),
		RecordsCreated:   created,
		RecordsUpdated:   updated,
		RecordsFailed:    dropped,
	}
	if dropped > 0 {
		result.Warnings = append(result.Warnings,
			eris.Errorf("%s: %d records failed validation", source, dropped).Error())
	}
	return result, nil
}

// CollectorJob builds a JobConfig whose Run drives the given collector.
func CollectorJob[R, T any](source string, priority int, maxAge time.Duration, deps []string, c Collector[R, T]) JobConfig {
	return JobConfig{
		Source:       source,
		JobType:      c.JobType(),
		Enabled:      true,
		Priority:     priority,
		MaxAge:       maxAge,
		Dependencies: deps,
		Run: func(ctx context.Context) (*JobResult, error) {
			return RunCollector(ctx, source, c)
		},
	}
}
