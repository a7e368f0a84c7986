// Package inmet reads raw INMET automatic-station exports: latin1-encoded,
// semicolon-delimited CSV with a block of station metadata lines before the
// header row.
package inmet

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"

	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
)

// HeaderOffset is the number of metadata lines before the header row in the
// stock INMET export layout.
const HeaderOffset = 8

// ReadExport parses an INMET export stream into an uninterpreted table.
// headerOffset rows are skipped before the header; the remaining rows are
// returned as-is, including malformed readings, which later stages absorb.
func ReadExport(r io.Reader, headerOffset int) (pipeline.RawTable, error) {
	cr := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var table pipeline.RawTable
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return pipeline.RawTable{}, fmt.Errorf("read export line %d: %w", line+1, err)
		}

		switch {
		case line < headerOffset:
			// station metadata block
		case line == headerOffset:
			table.Header = record
		default:
			table.Rows = append(table.Rows, record)
		}
		line++
	}

	if table.Header == nil {
		return pipeline.RawTable{}, fmt.Errorf("export has no header row (expected at line %d)", headerOffset+1)
	}
	return table, nil
}
