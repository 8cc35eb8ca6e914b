package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/queue"
)

var (
	queueLimit  int
	queueOffset int
)

var queueCmd = &cobra.Command{
	Use:   "queue [category]",
	Short: "Show the ranked call queue for a category",
	Long: `List the live queue projection for a category: active leads ranked
by score ascending, creation time breaking ties. Positions are 1-based and
computed at read time; nothing is cached or mutated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		category, err := parseCategoryFlag(args[0])
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		svc := queue.New(e.Store.Pool())
		entries, err := svc.Entries(ctx, category, queueLimit, queueOffset)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-category queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := queue.New(e.Store.Pool()).Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	queueCmd.Flags().IntVar(&queueLimit, "limit", 25, "page size")
	queueCmd.Flags().IntVar(&queueOffset, "offset", 0, "page offset")
	queueCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
