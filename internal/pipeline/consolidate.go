package pipeline

import (
	"errors"
	"sort"
	"time"
)

// ErrEmptyTelemetry means no channel carried a single data point. Distinct
// from "every row was invalid", which the validity filter reports later.
var ErrEmptyTelemetry = errors.New("telemetry response contains no data points")

// TieBreak selects which reading survives when one variable reports more
// than once for the same timestamp.
type TieBreak int

const (
	// FirstWins keeps the earliest reading in arrival order. This is the
	// historical behavior and the default.
	FirstWins TieBreak = iota
	// LastWins keeps the latest reading in arrival order.
	LastWins
)

// Point is one telemetry reading: an instant plus its raw string value.
type Point struct {
	TS    time.Time
	Value string
}

// Channel is one variable's time series, already mapped to a canonical
// field name. Channel and point order carry the arrival order that the
// tie-break depends on.
type Channel struct {
	Field  string
	Points []Point
}

// Consolidate merges per-variable time series into one row per timestamp.
// Timestamps are truncated to minute resolution. A variable absent at some
// timestamp leaves that field nil; duplicate readings of one variable at
// one timestamp resolve per the tie-break. Rows come back ascending by
// timestamp.
func Consolidate(channels []Channel, tb TieBreak) ([]CanonicalRow, error) {
	type slot struct {
		ts    int64
		field string
	}

	byTS := make(map[int64]*CanonicalRow)
	seen := make(map[slot]bool)
	total := 0

	for _, ch := range channels {
		for _, pt := range ch.Points {
			total++
			ts := pt.TS.UTC().Truncate(time.Minute)
			key := ts.Unix()

			row, ok := byTS[key]
			if !ok {
				row = &CanonicalRow{Timestamp: ts}
				byTS[key] = row
			}

			s := slot{ts: key, field: ch.Field}
			if seen[s] && tb == FirstWins {
				continue
			}
			seen[s] = true
			row.SetField(ch.Field, ParseComma(pt.Value))
		}
	}

	if total == 0 {
		return nil, ErrEmptyTelemetry
	}

	keys := make([]int64, 0, len(byTS))
	for k := range byTS {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]CanonicalRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, *byTS[k])
	}
	return rows, nil
}
