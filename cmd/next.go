package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	nextAgent    string
	nextCategory string
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Pick and claim the next unit of work for an agent",
	Long: `Select and atomically claim the next item for an agent: waiting
inbound calls first, then due callbacks (preferred-agent matches before
FIFO), then the ordinary queue by lowest score. Prints the claimed item, or
nothing when no work is claimable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if nextAgent == "" {
			return eris.New("--agent is required")
		}
		category, err := parseCategoryFlag(nextCategory)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		item, err := e.Dispatch.NextForAgent(ctx, nextAgent, category)
		if err != nil {
			return err
		}
		if item == nil {
			printf("No claimable work")
			return nil
		}
		return printJSON(item)
	},
}

func init() {
	nextCmd.Flags().StringVar(&nextAgent, "agent", "", "agent ID claiming the work")
	nextCmd.Flags().StringVar(&nextCategory, "category", "", "restrict ordinary-queue selection to one category")
	rootCmd.AddCommand(nextCmd)
}
