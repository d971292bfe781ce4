package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/pipeline"
)

var (
	syncRunType string
	syncSources []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the collection pipeline",
	Long:  "Loads the jobs file, orders jobs by priority, and runs each source through freshness, dependency, and circuit breaker gates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		runType := model.RunType(syncRunType)
		switch runType {
		case model.RunTypeFull, model.RunTypeIncremental, model.RunTypeValidation, model.RunTypeBackfill:
		default:
			return eris.Errorf("unknown run type %q", syncRunType)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := assembleJobs(st)
		if err != nil {
			return err
		}
		if len(syncSources) > 0 {
			jobs = filterJobs(jobs, syncSources)
		}
		if len(jobs) == 0 {
			return eris.New("no runnable jobs configured")
		}

		runner := pipeline.NewRunner(st, newBreaker(st))
		run, err := runner.Run(ctx, jobs, runType)
		if err != nil {
			return err
		}

		printRunSummary(run)
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed", run.ID)
		}
		return nil
	},
}

// filterJobs keeps only jobs whose source was named on the command line.
func filterJobs(jobs []pipeline.JobConfig, want []string) []pipeline.JobConfig {
	keep := make(map[string]bool, len(want))
	for _, s := range want {
		keep[s] = true
	}
	out := jobs[:0]
	for _, j := range jobs {
		if keep[j.Source] {
			out = append(out, j)
		}
	}
	return out
}

func printRunSummary(run *model.PipelineRun) {
	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	fmt.Printf("  sources: %d attempted, %d succeeded, %d failed\n",
		run.SourcesAttempted, run.SourcesSucceeded, run.SourcesFailed)
	fmt.Printf("  records: %d processed, %d created, %d updated\n",
		run.RecordsProcessed, run.RecordsCreated, run.RecordsUpdated)
	for _, w := range run.Warnings {
		fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
	}
	for _, e := range run.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncRunType, "type", "full", "run type (full, incremental, validation, backfill)")
	syncCmd.Flags().StringSliceVar(&syncSources, "source", nil, "limit the run to these sources (repeatable)")
	rootCmd.AddCommand(syncCmd)
}
