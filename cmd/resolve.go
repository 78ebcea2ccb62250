package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <vendor name>",
	Short: "Resolve a vendor name to its official website",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		candidates, _ := cmd.Flags().GetBool("candidates")
		name := strings.Join(args, " ")

		v, err := env.Resolver.Resolve(ctx, org, name)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Vendor:\t%s\n", v.Name)
		_, _ = fmt.Fprintf(w, "ID:\t%s\n", v.ID)
		_, _ = fmt.Fprintf(w, "Website:\t%s\n", orDash(v.WebsiteURL()))
		_, _ = fmt.Fprintf(w, "Confidence:\t%d\n", v.OfficialSiteConfidence)
		_ = w.Flush()

		if !candidates {
			return nil
		}
		found, err := env.Resolver.Discover(ctx, name, resolver.OfficialSiteQuery(name))
		if err != nil {
			return err
		}
		formatCandidates(os.Stdout, found)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("org", "default", "organization id")
	resolveCmd.Flags().Bool("candidates", false, "also list scored search candidates")
	rootCmd.AddCommand(resolveCmd)
}
