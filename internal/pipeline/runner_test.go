package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplytics/statsync/internal/model"
)

// fakeRunStore keeps run bookkeeping in memory and records freshness writes.
type fakeRunStore struct {
	nextID        int
	finalizedRun  *model.PipelineRun
	jobRuns       []*model.JobRun
	fresh         map[string]bool // source+"/"+dataType -> fresh
	freshnessSet  []string
	createRunErr  error
	finalizeCalls int
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{fresh: make(map[string]bool)}
}

func (s *fakeRunStore) CreatePipelineRun(_ context.Context, runType model.RunType) (*model.PipelineRun, error) {
	if s.createRunErr != nil {
		return nil, s.createRunErr
	}
	s.nextID++
	return &model.PipelineRun{
		ID:        "run-" + strconv.Itoa(s.nextID),
		RunType:   runType,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}, nil
}

func (s *fakeRunStore) FinalizePipelineRun(_ context.Context, run *model.PipelineRun) error {
	s.finalizeCalls++
	s.finalizedRun = run
	return nil
}

func (s *fakeRunStore) CreateJobRun(_ context.Context, pipelineRunID, source, jobType string) (*model.JobRun, error) {
	jr := &model.JobRun{
		ID: source + "-job", PipelineRunID: pipelineRunID, Source: source, JobType: jobType,
		Status: model.JobStatusRunning, StartedAt: time.Now().UTC(),
	}
	return jr, nil
}

func (s *fakeRunStore) FinalizeJobRun(_ context.Context, jr *model.JobRun) error {
	s.jobRuns = append(s.jobRuns, jr)
	return nil
}

func (s *fakeRunStore) IsDataFresh(_ context.Context, source, dataType string, _ time.Duration) (bool, error) {
	return s.fresh[source+"/"+dataType], nil
}

func (s *fakeRunStore) UpdateFreshness(_ context.Context, source, dataType string, _ int) error {
	s.fresh[source+"/"+dataType] = true
	s.freshnessSet = append(s.freshnessSet, source+"/"+dataType)
	return nil
}

// fakeGate is a CircuitGate with scripted availability.
type fakeGate struct {
	unavailable map[string]bool
	successes   []string
	failures    []string
}

func newFakeGate() *fakeGate { return &fakeGate{unavailable: make(map[string]bool)} }

func (g *fakeGate) IsAvailable(_ context.Context, source string) bool {
	return !g.unavailable[source]
}

func (g *fakeGate) RecordSuccess(_ context.Context, source string) {
	g.successes = append(g.successes, source)
}

func (g *fakeGate) RecordFailure(_ context.Context, source string) model.CircuitStateName {
	g.failures = append(g.failures, source)
	return model.CircuitClosed
}

func okJob(source string, priority int, executed *[]string) JobConfig {
	return JobConfig{
		Source: source, JobType: "team_stats", Enabled: true, Priority: priority,
		MaxAge: time.Hour,
		Run: func(_ context.Context) (*JobResult, error) {
			*executed = append(*executed, source)
			return &JobResult{Success: true, RecordsProcessed: 10, RecordsCreated: 4, RecordsUpdated: 6}, nil
		},
	}
}

// failingJob fails with a validation-classified error so no retry sleeps
// slow the test down.
func failingJob(source string, priority int, executed *[]string) JobConfig {
	return JobConfig{
		Source: source, JobType: "team_stats", Enabled: true, Priority: priority,
		MaxAge: time.Hour,
		Run: func(_ context.Context) (*JobResult, error) {
			*executed = append(*executed, source)
			return nil, errors.New("invalid payload from source")
		},
	}
}

func TestRunner_PriorityOrderIsAscendingAndStable(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(newFakeRunStore(), newFakeGate())

	var executed []string
	jobs := []JobConfig{
		okJob("p2", 2, &executed),
		okJob("p1", 1, &executed),
		okJob("p3", 3, &executed),
	}
	run, err := r.Run(ctx, jobs, model.RunTypeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, executed)
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	// Equal priorities keep original order.
	executed = nil
	jobs = []JobConfig{
		okJob("a", 1, &executed),
		okJob("b", 1, &executed),
		okJob("c", 0, &executed),
	}
	_, err = r.Run(ctx, jobs, model.RunTypeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, executed)
}

func TestRunner_DisabledJobsAreDropped(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(newFakeRunStore(), newFakeGate())

	var executed []string
	job := okJob("espn", 1, &executed)
	job.Enabled = false

	run, err := r.Run(ctx, []JobConfig{job}, model.RunTypeFull)
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Zero(t, run.SourcesAttempted)
	assert.Empty(t, run.Warnings)
}

func TestRunner_StaleDependencySkipsWithWarning(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRunStore()
	r := NewRunner(fs, newFakeGate())

	var executed []string
	job := okJob("espn", 1, &executed)
	job.Dependencies = []string{"statsfeed"}

	run, err := r.Run(ctx, []JobConfig{job}, model.RunTypeFull)
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Zero(t, run.SourcesAttempted)
	assert.Contains(t, run.Warnings, "Skipped espn: dependencies not satisfied")

	// Fresh dependency lets it through.
	fs.fresh["statsfeed/"+model.DataTypeGeneric] = true
	run, err = r.Run(ctx, []JobConfig{job}, model.RunTypeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"espn"}, executed)
	assert.Equal(t, 1, run.SourcesAttempted)
}

func TestRunner_IncrementalSkipsFreshDataSilently(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRunStore()
	fs.fresh["espn/team_stats"] = true
	r := NewRunner(fs, newFakeGate())

	var executed []string
	run, err := r.Run(ctx, []JobConfig{okJob("espn", 1, &executed)}, model.RunTypeIncremental)
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Zero(t, run.SourcesAttempted)
	assert.Empty(t, run.Warnings, "fresh-data skip is silent")
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	// A full run ignores own-data freshness.
	run, err = r.Run(ctx, []JobConfig{okJob("espn", 1, &executed)}, model.RunTypeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, run.SourcesAttempted)
}

func TestRunner_OpenCircuitSkipsWithWarning(t *testing.T) {
	ctx := context.Background()
	gate := newFakeGate()
	gate.unavailable["espn"] = true
	r := NewRunner(newFakeRunStore(), gate)

	var executed []string
	run, err := r.Run(ctx, []JobConfig{
		okJob("espn", 1, &executed),
		okJob("statsfeed", 2, &executed),
	}, model.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"statsfeed"}, executed)
	assert.Contains(t, run.Warnings, "Skipped espn: circuit breaker is open")
	assert.Equal(t, 1, run.SourcesAttempted)
	// A skip is informational, not a failure: with zero failed sources the
	// run still completes.
	assert.Zero(t, run.SourcesFailed)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
}

func TestRunner_StatusAggregation(t *testing.T) {
	ctx := context.Background()

	var executed []string
	cases := []struct {
		name string
		jobs []JobConfig
		want model.RunStatus
	}{
		{"all succeed", []JobConfig{okJob("a", 1, &executed), okJob("b", 2, &executed)}, model.RunStatusCompleted},
		{"mixed", []JobConfig{okJob("a", 1, &executed), failingJob("b", 2, &executed), okJob("c", 3, &executed)}, model.RunStatusPartialSuccess},
		{"all fail", []JobConfig{failingJob("a", 1, &executed), failingJob("b", 2, &executed)}, model.RunStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRunner(newFakeRunStore(), newFakeGate())
			run, err := r.Run(ctx, tc.jobs, model.RunTypeFull)
			require.NoError(t, err)
			assert.Equal(t, tc.want, run.Status)
			assert.Equal(t, run.SourcesAttempted, run.SourcesSucceeded+run.SourcesFailed)
		})
	}
}

func TestRunner_FailureIsolationAndCircuitBookkeeping(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRunStore()
	gate := newFakeGate()
	r := NewRunner(fs, gate)

	var executed []string
	run, err := r.Run(ctx, []JobConfig{
		failingJob("espn", 1, &executed),
		okJob("statsfeed", 2, &executed),
	}, model.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"espn", "statsfeed"}, executed, "failure must not abort the batch")
	assert.Equal(t, []string{"espn"}, gate.failures)
	assert.Equal(t, []string{"statsfeed"}, gate.successes)
	assert.Equal(t, []string{"statsfeed/team_stats"}, fs.freshnessSet, "freshness only updates on success")
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "espn")

	require.Len(t, fs.jobRuns, 2)
	assert.Equal(t, model.JobStatusFailed, fs.jobRuns[0].Status)
	assert.Equal(t, model.JobStatusCompleted, fs.jobRuns[1].Status)
}

func TestRunner_UnsuccessfulResultCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(newFakeRunStore(), newFakeGate())

	run, err := r.Run(ctx, []JobConfig{{
		Source: "espn", JobType: "team_stats", Enabled: true, Priority: 1, MaxAge: time.Hour,
		Run: func(_ context.Context) (*JobResult, error) {
			return &JobResult{Success: false, Errors: []string{"empty roster page"}}, nil
		},
	}}, model.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Errors, "espn: empty roster page")
}

func TestRunner_RecordAggregation(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(newFakeRunStore(), newFakeGate())

	var executed []string
	run, err := r.Run(ctx, []JobConfig{
		okJob("a", 1, &executed),
		okJob("b", 2, &executed),
	}, model.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, 20, run.RecordsProcessed)
	assert.Equal(t, 8, run.RecordsCreated)
	assert.Equal(t, 12, run.RecordsUpdated)
}
