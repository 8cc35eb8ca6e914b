package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/dispatch"
)

var claimAgent string

var claimCmd = &cobra.Command{
	Use:   "claim <kind> <ref>",
	Short: "Claim a specific work item for an agent",
	Long: `Attempt an atomic claim on one item: kind is callback, lead or
inbound; ref is the callback/inbound row ID or the person ID for leads. A
lost race exits with an error so scripts can fall through to the next
candidate.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := dispatch.ParseWorkKind(args[0])
		if err != nil {
			return err
		}
		if claimAgent == "" {
			return eris.New("--agent is required")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ok, err := e.Dispatch.Claim(ctx, kind, args[1], claimAgent)
		if err != nil {
			return err
		}
		if !ok {
			return eris.Errorf("claim contended: %s %s is held elsewhere", kind, args[1])
		}
		printf("Claimed %s %s for %s", kind, args[1], claimAgent)
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <kind> <ref>",
	Short: "Release a held work item back to pending",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := dispatch.ParseWorkKind(args[0])
		if err != nil {
			return err
		}
		if claimAgent == "" {
			return eris.New("--agent is required")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Dispatch.Release(ctx, kind, args[1], claimAgent); err != nil {
			return err
		}
		printf("Released %s %s", kind, args[1])
		return nil
	},
}

func init() {
	claimCmd.Flags().StringVar(&claimAgent, "agent", "", "agent ID")
	releaseCmd.Flags().StringVar(&claimAgent, "agent", "", "agent ID")
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(releaseCmd)
}
