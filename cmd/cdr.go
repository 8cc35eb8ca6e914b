package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/cdr"
	"github.com/sells-group/dialer-engine/internal/resilience"
)

var cdrCmd = &cobra.Command{
	Use:   "cdr <file>",
	Short: "Import a telephony CDR export into contact history",
	Long: `Import one call-detail-record file. The argument is a file name
resolved against the configured FTP base URL, a full ftp:// URL, or a local
path for backfills. Rows are keyed on call_ref, so re-importing the same
file only counts duplicates.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		fetcher := cdr.NewFetcher(cdr.FetchOptions{
			Timeout: time.Duration(cfg.CDR.TimeoutSecs) * time.Second,
			Retry:   resilience.FromConfig(cfg.Retry),
		})
		imp := cdr.NewImporter(e.Store.Pool(), fetcher, e.Runs, cfg.CDR)

		report, err := imp.Import(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(cdrCmd)
}
