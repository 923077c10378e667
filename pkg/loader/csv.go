package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
)

// Column headers of an event CSV.
const (
	ColumnEvent  = "Log Event"
	ColumnFile   = "File"
	ColumnDevice = "Device"
)

var (
	ErrNoEventColumn = errors.New("loader: csv has no \"Log Event\" column")
	ErrNoEvents      = errors.New("loader: csv contains no events")
)

// ParseEventsCSV reads one extraction input per row. The first non-comment
// row is the header; only the event column is required. Rows starting with
// '#' and rows whose event is blank are skipped.
func ParseEventsCSV(content []byte) ([]extract.Input, error) {
	reader := csv.NewReader(bytes.NewReader(stripBOM(content)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoEvents
	}
	if err != nil {
		return nil, fmt.Errorf("loader: read csv header: %w", err)
	}

	cols := map[string]int{ColumnEvent: -1, ColumnFile: -1, ColumnDevice: -1}
	for i, name := range header {
		if _, ok := cols[strings.TrimSpace(name)]; ok {
			cols[strings.TrimSpace(name)] = i
		}
	}
	if cols[ColumnEvent] < 0 {
		return nil, ErrNoEventColumn
	}

	var inputs []extract.Input
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("loader: read csv line %d: %w", line, err)
		}

		in := extract.Input{
			Event:  field(record, cols[ColumnEvent]),
			Source: strings.TrimSpace(field(record, cols[ColumnFile])),
			Device: strings.TrimSpace(field(record, cols[ColumnDevice])),
		}
		if strings.TrimSpace(in.Event) == "" {
			continue
		}
		inputs = append(inputs, in)
	}

	if len(inputs) == 0 {
		return nil, ErrNoEvents
	}
	return inputs, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

func stripBOM(content []byte) []byte {
	return bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
}
