package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hooplytics/statsync/internal/fetch"
	"github.com/hooplytics/statsync/internal/pipeline"
	"github.com/hooplytics/statsync/internal/resilience"
	"github.com/hooplytics/statsync/internal/resolver"
	"github.com/hooplytics/statsync/internal/sources"
	"github.com/hooplytics/statsync/internal/store"
)

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.Path)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// newBreaker builds the circuit breaker over the store from config.
func newBreaker(st store.Store) *resilience.Breaker {
	return resilience.NewBreaker(st, resilience.BreakerConfig{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		OpenTimeout:      cfg.Circuit.OpenTimeout(),
	})
}

// assembleJobs binds the declared jobs file entries to their collectors.
// Entries naming a source with no registered collector are skipped with a
// warning so a stale jobs file cannot take the whole run down.
func assembleJobs(st store.Store) ([]pipeline.JobConfig, error) {
	specs, err := pipeline.LoadJobSpecs(cfg.Sources.JobsFile)
	if err != nil {
		return nil, err
	}

	client := fetch.New(fetch.Options{
		UserAgent: cfg.Sources.UserAgent,
		Timeout:   30 * time.Second,
		RateLimiters: map[string]*rate.Limiter{
			"site.api.espn.com": rate.NewLimiter(5, 5),
		},
	})
	res := resolver.New(st).WithThreshold(cfg.Resolver.FuzzyThreshold)
	autoCreate := cfg.Resolver.AutoCreate

	runFuncs := map[string]func(ctx context.Context) (*pipeline.JobResult, error){
		sources.StatsfeedSource: func(ctx context.Context) (*pipeline.JobResult, error) {
			c := sources.NewStatsfeedCollector(client,
				cfg.Sources.Statsfeed.BaseURL, cfg.Sources.Statsfeed.APIKey, res, st, autoCreate)
			return pipeline.RunCollector(ctx, sources.StatsfeedSource, c)
		},
		sources.ESPNSource: func(ctx context.Context) (*pipeline.JobResult, error) {
			c := sources.NewESPNCollector(client, cfg.Sources.ESPN.BaseURL, res, st, autoCreate)
			return pipeline.RunCollector(ctx, sources.ESPNSource, c)
		},
	}

	var jobs []pipeline.JobConfig
	for _, spec := range specs {
		run, ok := runFuncs[spec.Source]
		if !ok {
			zap.L().Warn("no collector registered for source, skipping",
				zap.String("source", spec.Source))
			continue
		}
		jobs = append(jobs, spec.Config(run))
	}
	return jobs, nil
}
