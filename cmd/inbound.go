package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/dispatch"
)

var (
	inboundCaller   string
	inboundPerson   string
	inboundCategory string
	inboundAgent    string
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Manage the live inbound call queue",
}

var inboundEnqueueCmd = &cobra.Command{
	Use:   "enqueue <call-id>",
	Short: "Enqueue a live inbound call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if inboundCaller == "" {
			return eris.New("--caller is required")
		}
		category, err := parseCategoryFlag(inboundCategory)
		if err != nil {
			return err
		}

		in := dispatch.NewInbound{
			CallID:       args[0],
			CallerNumber: inboundCaller,
		}
		if inboundPerson != "" {
			in.PersonID = &inboundPerson
		}
		if category != "" {
			in.Category = &category
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		call, err := e.Dispatch.EnqueueInbound(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(call)
	},
}

var inboundConnectCmd = &cobra.Command{
	Use:   "connect <id>",
	Short: "Mark an assigned inbound call as connected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if inboundAgent == "" {
			return eris.New("--agent is required")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ok, err := e.Dispatch.ConnectInbound(ctx, args[0], inboundAgent)
		if err != nil {
			return err
		}
		if !ok {
			return eris.Errorf("inbound %s is not assigned to %s", args[0], inboundAgent)
		}
		printf("Connected inbound %s", args[0])
		return nil
	},
}

var inboundDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Assign waiting inbound calls to available agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		assigned, err := e.Dispatch.DispatchWaiting(ctx)
		if err != nil {
			return err
		}
		printf("Assigned %d waiting calls", assigned)
		return nil
	},
}

func init() {
	inboundEnqueueCmd.Flags().StringVar(&inboundCaller, "caller", "", "caller number")
	inboundEnqueueCmd.Flags().StringVar(&inboundPerson, "person", "", "matched person ID, if known")
	inboundEnqueueCmd.Flags().StringVar(&inboundCategory, "category", "", "queue category, if known")
	inboundConnectCmd.Flags().StringVar(&inboundAgent, "agent", "", "agent ID")
	inboundCmd.AddCommand(inboundEnqueueCmd)
	inboundCmd.AddCommand(inboundConnectCmd)
	inboundCmd.AddCommand(inboundDispatchCmd)
	rootCmd.AddCommand(inboundCmd)
}
