package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect saved match runs",
	Long:  "Commands for listing and viewing persisted match runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List match runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		target, _ := cmd.Flags().GetString("target")
		regionType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListMatchRuns(ctx, store.RunFilter{
			TargetID:   target,
			RegionType: model.RegionType(regionType),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the ranked results of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetMatchRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case formatJSON:
			return writeJSON(os.Stdout, run)
		case formatCSV:
			return writeResults(os.Stdout, format, run.Results)
		}
		_, _ = fmt.Fprintf(os.Stdout, "Run %s: target %s (%s), metric %s, pool %d, %s\n\n",
			run.ID, run.TargetID, run.RegionType, run.Metric, run.PoolSize,
			run.CreatedAt.Format("2006-01-02 15:04"))
		return writeResults(os.Stdout, format, run.Results)
	},
}

func init() {
	runsListCmd.Flags().String("target", "", "filter by target region id")
	runsListCmd.Flags().String("type", "", "filter by region type")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", formatTable, "output format: table, csv or json")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
