package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/dispatch"
	"github.com/sells-group/dialer-engine/internal/model"
)

var (
	completeAgent       string
	completeOutcome     string
	completeReschedule  string
	completeTalkSeconds int
)

var completeCmd = &cobra.Command{
	Use:   "complete <kind> <ref>",
	Short: "Report the result of a worked item",
	Long: `Complete a claimed item with an outcome. answered finishes it and
de-prioritizes the lead; no_answer, busy and failed burn a callback retry
(reschedule +15m until the budget runs out, then the person rejoins the
ordinary queue); reschedule needs --at; bad_number parks the lead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := dispatch.ParseWorkKind(args[0])
		if err != nil {
			return err
		}
		if completeAgent == "" {
			return eris.New("--agent is required")
		}
		outcome, err := model.ParseOutcome(completeOutcome)
		if err != nil {
			return err
		}

		req := dispatch.CompleteRequest{
			Kind:        kind,
			Ref:         args[1],
			AgentID:     completeAgent,
			Outcome:     outcome,
			TalkSeconds: completeTalkSeconds,
		}
		if completeReschedule != "" {
			at, err := parseWhen(completeReschedule)
			if err != nil {
				return err
			}
			req.RescheduleAt = &at
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Dispatch.Complete(ctx, req); err != nil {
			return err
		}
		printf("Completed %s %s: %s", kind, args[1], outcome)
		return nil
	},
}

func init() {
	completeCmd.Flags().StringVar(&completeAgent, "agent", "", "agent ID reporting the outcome")
	completeCmd.Flags().StringVar(&completeOutcome, "outcome", "", "answered|no_answer|busy|failed|bad_number|reschedule")
	completeCmd.Flags().StringVar(&completeReschedule, "at", "", "reschedule time (RFC 3339 or +duration)")
	completeCmd.Flags().IntVar(&completeTalkSeconds, "talk-seconds", 0, "talk time for attribution")
	rootCmd.AddCommand(completeCmd)
}
