package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplytics/statsync/internal/model"
)

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Inspect and reset per-source circuit breakers",
}

var circuitListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"status"},
	Short:   "List circuit breaker states",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		states, err := st.ListCircuits(ctx)
		if err != nil {
			return eris.Wrap(err, "circuit list")
		}

		if len(states) == 0 {
			fmt.Fprintln(os.Stderr, "No circuit state recorded yet.")
			return nil
		}

		formatCircuits(os.Stdout, states)
		return nil
	},
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Force a source's circuit back to closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := newBreaker(st).Reset(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "circuit reset %s", args[0])
		}
		fmt.Printf("Circuit for %s reset to closed.\n", args[0])
		return nil
	},
}

func init() {
	circuitCmd.AddCommand(circuitListCmd)
	circuitCmd.AddCommand(circuitResetCmd)
	rootCmd.AddCommand(circuitCmd)
}

func formatCircuits(out io.Writer, states []model.CircuitState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATE\tFAILURES\tLAST_FAILURE\tOPEN_UNTIL")
	_, _ = fmt.Fprintln(w, "------\t-----\t--------\t------------\t----------")

	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.Source,
			s.State,
			s.FailureCount,
			formatTimePtr(s.LastFailureAt),
			formatTimePtr(s.OpenUntil),
		)
	}
	_ = w.Flush()
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
