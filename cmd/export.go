package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
)

var (
	exportOut       string
	exportPerson    string
	exportType      string
	exportSince     string
	exportUntil     string
	exportRecovered bool
	exportLimit     int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export conversion records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f := ledger.Filter{
			PersonID: exportPerson,
			Limit:    exportLimit,
		}
		if exportType != "" {
			ct, err := model.ParseConversionType(exportType)
			if err != nil {
				return err
			}
			f.Type = ct
		}
		if exportSince != "" {
			t, err := parseWhen(exportSince)
			if err != nil {
				return err
			}
			f.Since = t
		}
		if exportUntil != "" {
			t, err := parseWhen(exportUntil)
			if err != nil {
				return err
			}
			f.Until = t
		}
		if cmd.Flags().Changed("recovered") {
			f.Recovered = &exportRecovered
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.Ledger.ExportXLSX(ctx, f, exportOut)
		if err != nil {
			return err
		}
		printf("Wrote %d conversions to %s", n, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "conversions.xlsx", "output path")
	exportCmd.Flags().StringVar(&exportPerson, "person", "", "filter by person ID")
	exportCmd.Flags().StringVar(&exportType, "type", "", "filter by conversion type")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "earliest conversion time (RFC 3339 or +duration)")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "latest conversion time (RFC 3339 or +duration)")
	exportCmd.Flags().BoolVar(&exportRecovered, "recovered", false, "filter by recovered flag")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "cap the number of rows (0 = no cap)")
	rootCmd.AddCommand(exportCmd)
}
