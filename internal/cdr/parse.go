package cdr

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Record is one CDR row mapped to the contact history shape.
type Record struct {
	CallRef     string
	PersonID    string
	AgentID     string
	Direction   string
	Outcome     string
	TalkSeconds int
	StartedAt   time.Time
}

// Row is one parsed line. Err is set for lines the parser could not use;
// the importer counts those and moves on.
type Row struct {
	Line   int
	Record Record
	Err    error
}

// PBX exports use this timestamp layout, in UTC.
const timeLayout = "2006-01-02 15:04:05"

var requiredColumns = []string{
	"call_ref", "person_id", "agent_id", "direction", "disposition", "billsec", "started_at",
}

// Parse streams rows from a CDR export. The export's charset comes from the
// PBX configuration; anything htmlindex knows is accepted, empty means UTF-8.
// Fatal problems (unreadable input, bad header) arrive on the error channel;
// both channels close when parsing ends.
func Parse(ctx context.Context, r io.Reader, encodingName string) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		if encodingName != "" && !strings.EqualFold(encodingName, "utf-8") {
			enc, err := htmlindex.Get(encodingName)
			if err != nil {
				errCh <- eris.Wrapf(err, "cdr: unsupported charset %q", encodingName)
				return
			}
			r = enc.NewDecoder().Reader(r)
		}

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			errCh <- eris.Wrap(err, "cdr: read header")
			return
		}
		idx, err := headerIndex(header)
		if err != nil {
			errCh <- err
			return
		}

		line := 1
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "cdr: context cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			line++
			if err != nil {
				errCh <- eris.Wrapf(err, "cdr: read line %d", line)
				return
			}

			row := Row{Line: line}
			row.Record, row.Err = parseFields(fields, idx, line)
			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "cdr: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("cdr: header missing column %q", col)
		}
	}
	return idx, nil
}

func parseFields(fields []string, idx map[string]int, line int) (Record, error) {
	get := func(col string) string {
		i := idx[col]
		if i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	rec := Record{
		CallRef:   get("call_ref"),
		PersonID:  get("person_id"),
		AgentID:   get("agent_id"),
		Direction: strings.ToLower(get("direction")),
		Outcome:   normalizeOutcome(get("disposition")),
	}

	talk := get("billsec")
	if talk != "" {
		n, err := strconv.Atoi(talk)
		if err != nil {
			return rec, eris.Errorf("cdr: line %d: bad billsec %q", line, talk)
		}
		rec.TalkSeconds = n
	}

	started, err := time.Parse(timeLayout, get("started_at"))
	if err != nil {
		return rec, eris.Errorf("cdr: line %d: bad started_at %q", line, get("started_at"))
	}
	rec.StartedAt = started.UTC()

	return rec, nil
}

// normalizeOutcome maps PBX dispositions onto the engine's outcome names.
func normalizeOutcome(disposition string) string {
	switch strings.ToUpper(disposition) {
	case "ANSWERED":
		return "answered"
	case "NO ANSWER", "NOANSWER":
		return "no_answer"
	case "BUSY":
		return "busy"
	case "FAILED", "CONGESTION":
		return "failed"
	default:
		return strings.ReplaceAll(strings.ToLower(disposition), " ", "_")
	}
}
