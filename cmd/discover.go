package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var discoverSkipReconcile bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sync lead records against the eligibility source",
	Long: `Run one discovery pass: page every category from the eligibility
source, create new leads at score 0, reset leads whose category changed, and
touch the rest. The pass runs under the configured wall budget and persists a
resumable cursor when it runs out.

Unless --skip-reconcile is set, the conversion sweep runs afterwards and
deactivates leads no longer eligible anywhere, writing their conversion
records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "discover"))

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := newDiscoveryJob(e)
		if err != nil {
			return err
		}

		report, err := job.Discover(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if report.CanResume {
			log.Warn("discovery suspended on budget; re-run to resume",
				zap.String("cursor", report.NextCursor))
		}

		if discoverSkipReconcile || report.CanResume {
			return nil
		}

		sweep, err := job.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printJSON(sweep)
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverSkipReconcile, "skip-reconcile", false,
		"skip the conversion sweep after discovery")
	rootCmd.AddCommand(discoverCmd)
}
