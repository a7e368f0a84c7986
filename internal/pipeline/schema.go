package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ColumnSpec binds one source column label to its canonical field name.
type ColumnSpec struct {
	Source    string
	Canonical string
}

// ColumnPlan declares how a raw export projects onto the canonical schema:
// which source columns carry the measurements, which two columns combine
// into the timestamp, and the date/time layout to parse them with. Plans
// are validated once at startup, not inside the pipeline.
type ColumnPlan struct {
	DateColumn   string
	TimeColumn   string
	TimeSuffix   string // suffix stripped from the time column, e.g. " UTC"
	Layout       string // layout for "<date> <cleaned time>"
	Measurements []ColumnSpec
}

// DefaultINMETPlan returns the column plan for INMET automatic-station
// exports.
func DefaultINMETPlan() ColumnPlan {
	return ColumnPlan{
		DateColumn: "Data",
		TimeColumn: "Hora UTC",
		TimeSuffix: " UTC",
		Layout:     "2006/01/02 1504",
		Measurements: []ColumnSpec{
			{Source: "TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)", Canonical: FieldTemperature},
			{Source: "PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)", Canonical: FieldPressure},
			{Source: "RADIACAO GLOBAL (Kj/m²)", Canonical: FieldRadiation},
			{Source: "UMIDADE RELATIVA DO AR, HORARIA (%)", Canonical: FieldHumidity},
		},
	}
}

// Validate checks that the plan names every part it needs.
func (p ColumnPlan) Validate() error {
	if p.DateColumn == "" || p.TimeColumn == "" {
		return errors.New("column plan: date and time columns are required")
	}
	if p.Layout == "" {
		return errors.New("column plan: timestamp layout is required")
	}
	if len(p.Measurements) == 0 {
		return errors.New("column plan: at least one measurement column is required")
	}
	for _, m := range p.Measurements {
		if m.Source == "" || m.Canonical == "" {
			return errors.New("column plan: measurement with empty source or canonical name")
		}
	}
	return nil
}

// SchemaMismatchError reports that a required source column is absent from
// a raw export, which usually means the upstream format changed.
type SchemaMismatchError struct {
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: required column %q not found in export header", e.Column)
}

// RawTable is an uninterpreted export: a header row plus data rows, all
// values still strings.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// PartialRow has the shape of a canonical row but with measurements still
// raw strings pending numeric normalization. A zero Timestamp marks a row
// whose date/time did not parse.
type PartialRow struct {
	Timestamp time.Time
	Raw       map[string]string // canonical field name -> raw value
}

// MapTable projects a raw export onto the canonical column set per the
// plan. It fails if any required source column is missing; individual rows
// with unparsable timestamps are kept with a zero timestamp and left for
// the validity filter to drop.
func MapTable(table RawTable, plan ColumnPlan) ([]PartialRow, error) {
	index := make(map[string]int, len(table.Header))
	for i, label := range table.Header {
		index[strings.TrimSpace(label)] = i
	}

	dateIdx, ok := index[plan.DateColumn]
	if !ok {
		return nil, &SchemaMismatchError{Column: plan.DateColumn}
	}
	timeIdx, ok := index[plan.TimeColumn]
	if !ok {
		return nil, &SchemaMismatchError{Column: plan.TimeColumn}
	}
	measIdx := make([]int, len(plan.Measurements))
	for i, m := range plan.Measurements {
		idx, ok := index[m.Source]
		if !ok {
			return nil, &SchemaMismatchError{Column: m.Source}
		}
		measIdx[i] = idx
	}

	out := make([]PartialRow, 0, len(table.Rows))
	for _, record := range table.Rows {
		pr := PartialRow{Raw: make(map[string]string, len(plan.Measurements))}

		if dateIdx < len(record) && timeIdx < len(record) {
			clean := strings.ReplaceAll(record[timeIdx], plan.TimeSuffix, "")
			stamp := strings.TrimSpace(record[dateIdx]) + " " + strings.TrimSpace(clean)
			if ts, err := time.Parse(plan.Layout, stamp); err == nil {
				pr.Timestamp = ts.UTC()
			}
		}

		for i, m := range plan.Measurements {
			if measIdx[i] < len(record) {
				pr.Raw[m.Canonical] = record[measIdx[i]]
			}
		}
		out = append(out, pr)
	}
	return out, nil
}
