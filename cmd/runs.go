package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect comparison run history",
	Long:  "Commands for listing and viewing comparison runs and vendor update events.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent comparison runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListCompareRuns(ctx, org, limit)
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
	Short: "Show a run and its rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, _ := cmd.Flags().GetString("org")
		asJSON, _ := cmd.Flags().GetBool("json")

		detail, err := st.GetCompareRun(ctx, org, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(detail)
		}

		you, comp := detail.Run.YouVendorID, detail.Run.CompVendorID
		if v, err := st.GetVendor(ctx, org, you); err == nil && v != nil {
			you = v.Name
		}
		if v, err := st.GetVendor(ctx, org, comp); err == nil && v != nil {
			comp = v.Name
		}
		formatCompareTable(os.Stdout, you, comp, detail)
		return nil
	},
}

// -- runs events --

var runsEventsCmd = &cobra.Command{
	Use:   "events <vendor-id>",
	Short: "List update events detected for a vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		org, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		events, err := st.ListUpdateEvents(ctx, org, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "runs events")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No events found.")
			return nil
		}
		formatEvents(os.Stdout, events)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runsListCmd, runsShowCmd, runsEventsCmd} {
		c.Flags().String("org", "default", "organization id")
	}
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsEventsCmd.Flags().Int("limit", 50, "max number of events to display")
	runsShowCmd.Flags().Bool("json", false, "print the run as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsEventsCmd)
	rootCmd.AddCommand(runsCmd)
}
