package pipeline

import (
	"bytes"
	"encoding/csv"
	"time"
)

// Canonical field names, matching the columns of the destination table.
const (
	FieldTemperature = "temperatura_c"
	FieldPressure    = "pressao_mb"
	FieldRadiation   = "radiacao_kj_m2"
	FieldHumidity    = "umidade_relativa_pct"
)

// CanonicalFields lists every measured quantity in output column order.
var CanonicalFields = []string{FieldTemperature, FieldPressure, FieldRadiation, FieldHumidity}

// CanonicalRow is one normalized observation. A nil measurement means the
// source had no parseable reading for that field. Timestamp is UTC at
// minute resolution; the zero value marks an unparsable timestamp.
type CanonicalRow struct {
	Timestamp   time.Time
	Temperature *float64
	Pressure    *float64
	Radiation   *float64
	Humidity    *float64
}

// Field returns the measurement stored under the given canonical name.
func (r *CanonicalRow) Field(name string) *float64 {
	switch name {
	case FieldTemperature:
		return r.Temperature
	case FieldPressure:
		return r.Pressure
	case FieldRadiation:
		return r.Radiation
	case FieldHumidity:
		return r.Humidity
	}
	return nil
}

// SetField stores a measurement under the given canonical name.
func (r *CanonicalRow) SetField(name string, v *float64) {
	switch name {
	case FieldTemperature:
		r.Temperature = v
	case FieldPressure:
		r.Pressure = v
	case FieldRadiation:
		r.Radiation = v
	case FieldHumidity:
		r.Humidity = v
	}
}

// Dataset is an ordered sequence of canonical rows belonging to one
// ingestion run, ascending by timestamp with unique timestamps.
type Dataset []CanonicalRow

const timestampLayout = "2006-01-02 15:04:05"

// EncodeCSV serializes the dataset with the same conventions the station
// exports use: semicolon separator, comma decimal marker, empty cell for a
// missing reading. Re-encoding the same dataset yields identical bytes.
func (d Dataset) EncodeCSV() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	header := append([]string{"data_hora_utc"}, CanonicalFields...)
	_ = w.Write(header)

	record := make([]string, len(header))
	for i := range d {
		row := &d[i]
		record[0] = row.Timestamp.UTC().Format(timestampLayout)
		for j, name := range CanonicalFields {
			v := row.Field(name)
			if v == nil {
				record[j+1] = ""
			} else {
				record[j+1] = FormatComma(*v)
			}
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}
