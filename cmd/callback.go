package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/dispatch"
)

var (
	callbackAt         string
	callbackCategory   string
	callbackAgent      string
	callbackMaxRetries int
)

var callbackCmd = &cobra.Command{
	Use:   "callback <person-id>",
	Short: "Schedule a callback for a person",
	Long: `Schedule a callback. Callbacks outrank the ordinary queue when due,
and a preferred agent gets first refusal before the callback goes FIFO.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if callbackAt == "" {
			return eris.New("--at is required")
		}
		at, err := parseWhen(callbackAt)
		if err != nil {
			return err
		}
		category, err := parseCategoryFlag(callbackCategory)
		if err != nil {
			return err
		}

		in := dispatch.NewCallback{
			PersonID:     args[0],
			ScheduledFor: at,
			MaxRetries:   callbackMaxRetries,
		}
		if category != "" {
			in.Category = &category
		}
		if callbackAgent != "" {
			in.PreferredAgent = &callbackAgent
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		cb, err := e.Dispatch.ScheduleCallback(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(cb)
	},
}

func init() {
	callbackCmd.Flags().StringVar(&callbackAt, "at", "", "scheduled time (RFC 3339 or +duration)")
	callbackCmd.Flags().StringVar(&callbackCategory, "category", "", "queue category for the callback")
	callbackCmd.Flags().StringVar(&callbackAgent, "agent", "", "preferred agent ID")
	callbackCmd.Flags().IntVar(&callbackMaxRetries, "max-retries", 1, "failed attempts before the callback degrades to the ordinary queue")
	rootCmd.AddCommand(callbackCmd)
}
