package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <vendor-id>",
	Short: "Collect selected lanes for one vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		lanes, _ := cmd.Flags().GetStringSlice("lanes")
		if len(lanes) == 0 {
			for _, l := range model.AllLanes() {
				lanes = append(lanes, string(l))
			}
		}
		for i := range lanes {
			lanes[i] = strings.TrimSpace(lanes[i])
		}

		results := env.Pipeline.RefreshVendorLane(ctx, org, args[0], lanes)
		formatLaneResults(os.Stdout, results)
		return nil
	},
}

func init() {
	refreshCmd.Flags().String("org", "default", "organization id")
	refreshCmd.Flags().StringSlice("lanes", nil, "lanes to collect (default all)")
	rootCmd.AddCommand(refreshCmd)
}
