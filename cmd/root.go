package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dialer",
	Short: "Lead scoring, queue assignment and call-claim engine",
	Long:  "Discovers eligible leads from Salesforce, ages and ranks them into call queues, claims work for agents with atomic leases, and reconciles exits into the conversion ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
