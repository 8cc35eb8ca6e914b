package main

import (
	"time"

	"github.com/spf13/cobra"
)

var ageCmd = &cobra.Command{
	Use:   "age",
	Short: "Apply the daily aging step to every active lead",
	Long: `Increment every active, non-terminal lead's score by the policy
aging step. The pass is keyed on the civil date, so re-running it the same
day is a no-op, and it skips the configured rest weekday entirely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := newDiscoveryJob(e)
		if err != nil {
			return err
		}

		report, err := job.Age(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the conversion sweep on its own",
	Long: `Re-check every active lead against the eligibility source and
convert the ones no longer eligible anywhere, plus any lead sitting at the
terminal score. Safe to re-run; conversion writes are deduplicated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := newDiscoveryJob(e)
		if err != nil {
			return err
		}

		report, err := job.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(ageCmd)
	rootCmd.AddCommand(reconcileCmd)
}
