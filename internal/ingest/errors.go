package ingest

import "errors"

var (
	// ErrUnsupportedFormat rejects uploads whose filename is not a CSV,
	// before any processing happens.
	ErrUnsupportedFormat = errors.New("unsupported file format, expected .csv")
	// ErrSourceNotFound means the fixed local export path does not exist.
	ErrSourceNotFound = errors.New("local source file not found")
	// ErrTelemetryDisabled means no telemetry platform is configured.
	ErrTelemetryDisabled = errors.New("telemetry source not configured")
)
