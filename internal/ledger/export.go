package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

var exportHeader = []string{
	"Person ID", "Previous Category", "Conversion Type", "Final Score",
	"Total Attempts", "Primary Agent", "Contributing Agents", "Recovered",
	"Converted At",
}

// ExportXLSX writes the conversions matching f to a workbook at path and
// returns how many records it wrote.
func (l *Ledger) ExportXLSX(ctx context.Context, f Filter, path string) (int, error) {
	log := zap.L().With(zap.String("component", "ledger"))

	recs, err := l.Conversions(ctx, f)
	if err != nil {
		return 0, err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Conversions")
	if err != nil {
		return 0, eris.Wrap(err, "ledger: add export sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().SetString(col)
	}

	for _, rec := range recs {
		row := sheet.AddRow()
		row.AddCell().SetString(rec.PersonID)
		prev := ""
		if rec.PreviousCategory != nil {
			prev = string(*rec.PreviousCategory)
		}
		row.AddCell().SetString(prev)
		row.AddCell().SetString(string(rec.Type))
		row.AddCell().SetInt(rec.FinalScore)
		row.AddCell().SetInt(rec.TotalAttempts)
		primary := ""
		if rec.PrimaryAgentID != nil {
			primary = *rec.PrimaryAgentID
		}
		row.AddCell().SetString(primary)
		row.AddCell().SetString(strings.Join(rec.ContributingAgents, ", "))
		row.AddCell().SetString(strconv.FormatBool(rec.Recovered))
		row.AddCell().SetString(rec.ConvertedAt.UTC().Format(time.RFC3339))
	}

	if err := file.Save(path); err != nil {
		return 0, eris.Wrap(err, "ledger: save export")
	}

	log.Info("conversions exported",
		zap.Int("records", len(recs)),
		zap.String("path", path))
	return len(recs), nil
}
