package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/resolver"
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Inspect and resolve canonical teams",
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical teams with their source aliases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		teams, err := st.ListTeams(ctx)
		if err != nil {
			return eris.Wrap(err, "teams list")
		}
		if len(teams) == 0 {
			fmt.Fprintln(os.Stderr, "No teams yet.")
			return nil
		}

		formatTeams(os.Stdout, teams)
		return nil
	},
}

var teamsResolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a raw team name and show how it matched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		create, _ := cmd.Flags().GetBool("create")
		group, _ := cmd.Flags().GetString("group")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res := resolver.New(st).WithThreshold(cfg.Resolver.FuzzyThreshold)
		result, err := res.Resolve(ctx, args[0], source, resolver.Options{AutoCreate: create, GroupID: group})
		if err != nil {
			return eris.Wrapf(err, "resolve %q", args[0])
		}

		fmt.Printf("%q -> team %s (confidence: %s", args[0], result.TeamID, result.Confidence)
		if result.WasCreated {
			fmt.Print(", newly created")
		}
		fmt.Println(")")
		return nil
	},
}

func init() {
	teamsResolveCmd.Flags().String("source", "manual", "source name to record the alias under")
	teamsResolveCmd.Flags().Bool("create", false, "create the team if nothing matches")
	teamsResolveCmd.Flags().String("group", "", "restrict matching to this league/competition group")

	teamsCmd.AddCommand(teamsListCmd)
	teamsCmd.AddCommand(teamsResolveCmd)
	rootCmd.AddCommand(teamsCmd)
}

func formatTeams(out io.Writer, teams []model.Team) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSHORT\tALIASES")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------")

	for _, t := range teams {
		aliases := make([]string, 0, len(t.ExternalIDs))
		for source, raw := range t.ExternalIDs {
			aliases = append(aliases, source+"="+raw)
		}
		sort.Strings(aliases)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(t.ID), t.CanonicalName, t.ShortName, strings.Join(aliases, ", "))
	}
	_ = w.Flush()
}
