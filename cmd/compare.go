package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/pipeline"
)

var compareCmd = &cobra.Command{
	Use:   "compare <you> <competitor>",
	Short: "Run a comparison once and print the table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		asJSON, _ := cmd.Flags().GetBool("json")

		res, err := env.Pipeline.RunCompareFacts(ctx, pipeline.Request{
			OrgID:    org,
			YouName:  args[0],
			CompName: args[1],
		})
		if err != nil {
			return eris.Wrap(err, "compare")
		}
		if !res.OK {
			return eris.Errorf("compare: %s", res.Reason)
		}

		detail, err := env.Pipeline.GetCompareRun(ctx, org, res.RunID)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(detail)
		}

		formatReport(os.Stderr, res.Report)
		formatCompareTable(os.Stdout, args[0], args[1], detail)
		return nil
	},
}

func init() {
	compareCmd.Flags().String("org", "default", "organization id")
	compareCmd.Flags().Bool("json", false, "print the run as JSON")
	rootCmd.AddCommand(compareCmd)
}
