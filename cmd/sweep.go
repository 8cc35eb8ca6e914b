package main

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release expired leases and time out stale inbound calls",
	Long: `Return every assigned callback, inbound call and lead claim whose
lease has expired back to pending, then time out inbound callers past the
max wait. The timeout step only runs when at least one agent is available;
with zero agents callers keep waiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.Dispatch.Sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
