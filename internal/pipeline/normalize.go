package pipeline

import (
	"strconv"
	"strings"
)

// ParseComma converts a locale-formatted numeric string (comma decimal
// separator) into a float. Empty strings, sentinels and anything else that
// does not parse yield nil; malformed readings are common in station
// exports and must not abort a batch.
func ParseComma(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// FormatComma renders a float back into the comma-decimal convention used
// by the source exports, so stored payloads round-trip byte-identical.
func FormatComma(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return strings.ReplaceAll(s, ".", ",")
}

// NormalizeRows resolves the raw string measurements of mapped rows into
// typed values, producing canonical rows. Unparseable readings become nil.
func NormalizeRows(rows []PartialRow) []CanonicalRow {
	out := make([]CanonicalRow, 0, len(rows))
	for _, pr := range rows {
		row := CanonicalRow{Timestamp: pr.Timestamp}
		for name, raw := range pr.Raw {
			row.SetField(name, ParseComma(raw))
		}
		out = append(out, row)
	}
	return out
}
