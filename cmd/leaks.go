package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/leaks"
)

var leakWindowHours int

var leaksCmd = &cobra.Command{
	Use:   "leaks",
	Short: "Detect and recover missing conversion records",
}

var leaksScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one leak scan",
	Long: `Scan recent lead deactivations for exits that never produced a
conversion record and recover each through the deduplicated ledger path.
Unrecovered leaks are logged and pushed to the review board when one is
configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.Scanner.Scan(ctx, scanWindow())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var leaksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count potential leaks without recovering them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pending, err := e.Scanner.Pending(ctx, scanWindow())
		if err != nil {
			return err
		}
		printf("Potential leaks in the last %s: %d", scanWindow(), pending)
		return nil
	},
}

var leaksMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the continuous leak monitor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		leaks.NewMonitor(e.Scanner, cfg.Leaks).Run(ctx)
		return nil
	},
}

func scanWindow() time.Duration {
	if leakWindowHours > 0 {
		return time.Duration(leakWindowHours) * time.Hour
	}
	return time.Duration(cfg.Leaks.ScanWindowHours) * time.Hour
}

func init() {
	leaksCmd.PersistentFlags().IntVar(&leakWindowHours, "window", 0, "scan window in hours (default from config)")
	leaksCmd.AddCommand(leaksScanCmd)
	leaksCmd.AddCommand(leaksStatusCmd)
	leaksCmd.AddCommand(leaksMonitorCmd)
	rootCmd.AddCommand(leaksCmd)
}
