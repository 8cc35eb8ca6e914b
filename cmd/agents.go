package main

import (
	"github.com/spf13/cobra"
)

var heartbeatStatus string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent presence",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and their presence",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		list, err := e.Agents.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var agentsHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent-id>",
	Short: "Record an agent presence heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Agents.Heartbeat(ctx, args[0], heartbeatStatus); err != nil {
			return err
		}
		printf("Heartbeat recorded for %s (%s)", args[0], heartbeatStatus)
		return nil
	},
}

func init() {
	agentsHeartbeatCmd.Flags().StringVar(&heartbeatStatus, "status", "available", "available|busy|offline")
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsHeartbeatCmd)
	rootCmd.AddCommand(agentsCmd)
}
