// Package ingest binds one raw source (upload, local file, remote
// telemetry) to the normalization pipeline and to the two sinks. One call
// is one ingestion pass; nothing here retries or runs in the background.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmeireles/inmet-pipeline/internal/config"
	"github.com/vmeireles/inmet-pipeline/internal/inmet"
	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
	"github.com/vmeireles/inmet-pipeline/internal/telemetry"
)

// ObjectStore is the object sink as the orchestrator sees it.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, name string) error
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// RowStore is the relational sink as the orchestrator sees it.
type RowStore interface {
	AppendRows(ctx context.Context, table string, rows pipeline.Dataset) (int64, error)
}

// RangeCounter is an optional RowStore capability: counting rows in a
// timestamp range, used after a load to report overlap with earlier runs.
type RangeCounter interface {
	CountRange(ctx context.Context, table string, from, to time.Time) (int64, error)
}

// TelemetrySource is the remote platform boundary: obtain a token, resolve
// a device, fetch its history.
type TelemetrySource interface {
	Login(ctx context.Context) error
	DeviceID(ctx context.Context, name string) (string, error)
	Timeseries(ctx context.Context, deviceID string) (map[string][]telemetry.Reading, []byte, error)
}

// ChannelSpec maps one telemetry variable key to a canonical field.
type ChannelSpec struct {
	Key   string
	Field string
}

// defaultChannels is the telemetry-variable naming the stations publish
// under. Variables outside this list are ignored.
var defaultChannels = []ChannelSpec{
	{Key: "temperature", Field: pipeline.FieldTemperature},
	{Key: "pressure", Field: pipeline.FieldPressure},
	{Key: "radiation", Field: pipeline.FieldRadiation},
	{Key: "humidity", Field: pipeline.FieldHumidity},
}

// Result is the uniform outcome of one successful ingestion pass. The two
// sink writes are independently observable: RawKey/ProcessedKey report the
// object uploads, RowsWritten the relational append.
type Result struct {
	RunID        string `json:"run_id"`
	Bucket       string `json:"bucket"`
	RawKey       string `json:"raw_key"`
	ProcessedKey string `json:"processed_key"`
	RowsWritten  int64  `json:"rows_written"`
	RowsDropped  int    `json:"rows_dropped"`
	Message      string `json:"message"`
}

// Ingestor runs the ingestion pipeline end to end for each source variant.
type Ingestor struct {
	cfg      config.Config
	plan     pipeline.ColumnPlan
	channels []ChannelSpec
	objects  ObjectStore
	rows     RowStore
	telem    TelemetrySource
}

// New wires an orchestrator. The column plan is validated here, once, so a
// bad schema configuration fails at startup rather than per request.
func New(cfg config.Config, objects ObjectStore, rows RowStore, telem TelemetrySource) (*Ingestor, error) {
	plan := pipeline.DefaultINMETPlan()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &Ingestor{
		cfg:      cfg,
		plan:     plan,
		channels: defaultChannels,
		objects:  objects,
		rows:     rows,
		telem:    telem,
	}, nil
}

// IngestUpload processes an already-in-memory export file.
func (ing *Ingestor) IngestUpload(ctx context.Context, filename string, payload []byte) (Result, error) {
	if !strings.EqualFold(path.Ext(filename), ".csv") {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	ds, dropped, err := ing.transformExport(payload)
	if err != nil {
		return Result{}, err
	}
	return ing.deliver(ctx, filename, payload, "text/csv", ds, dropped, "uploaded file ingested")
}

// IngestLocalFile processes the export at the fixed, pre-known path.
func (ing *Ingestor) IngestLocalFile(ctx context.Context) (Result, error) {
	payload, err := os.ReadFile(ing.cfg.LocalCSVPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrSourceNotFound, ing.cfg.LocalCSVPath)
		}
		return Result{}, fmt.Errorf("read local source: %w", err)
	}

	ds, dropped, err := ing.transformExport(payload)
	if err != nil {
		return Result{}, err
	}
	return ing.deliver(ctx, ing.cfg.LocalSourceName, payload, "text/csv", ds, dropped, "local file ingested")
}

// IngestTelemetry resolves a device by name on the telemetry platform,
// fetches its full history and consolidates the per-variable series into
// the canonical wide table.
func (ing *Ingestor) IngestTelemetry(ctx context.Context, deviceName string) (Result, error) {
	if ing.telem == nil {
		return Result{}, ErrTelemetryDisabled
	}

	if err := ing.telem.Login(ctx); err != nil {
		return Result{}, err
	}
	deviceID, err := ing.telem.DeviceID(ctx, deviceName)
	if err != nil {
		return Result{}, err
	}
	series, raw, err := ing.telem.Timeseries(ctx, deviceID)
	if err != nil {
		return Result{}, err
	}

	channels := make([]pipeline.Channel, 0, len(ing.channels))
	for _, spec := range ing.channels {
		readings := series[spec.Key]
		ch := pipeline.Channel{Field: spec.Field, Points: make([]pipeline.Point, 0, len(readings))}
		for _, r := range readings {
			ch.Points = append(ch.Points, pipeline.Point{TS: time.UnixMilli(r.TS).UTC(), Value: r.Value})
		}
		channels = append(channels, ch)
	}

	rows, err := pipeline.Consolidate(channels, ing.cfg.TieBreak)
	if err != nil {
		return Result{}, err
	}
	ds, dropped := pipeline.Filter(rows, ing.cfg.RequiredMeasurements)

	return ing.deliver(ctx, deviceName+".json", raw, "application/json", ds, dropped, "telemetry ingested")
}

// transformExport runs a raw CSV export through reader, schema mapper,
// numeric normalizer and validity filter.
func (ing *Ingestor) transformExport(payload []byte) (pipeline.Dataset, int, error) {
	table, err := inmet.ReadExport(bytes.NewReader(payload), ing.cfg.HeaderOffset)
	if err != nil {
		return nil, 0, err
	}
	partial, err := pipeline.MapTable(table, ing.plan)
	if err != nil {
		return nil, 0, err
	}
	rows := pipeline.NormalizeRows(partial)
	ds, dropped := pipeline.Filter(rows, ing.cfg.RequiredMeasurements)
	return ds, dropped, nil
}

// deliver writes the raw payload and the normalized dataset to the object
// store and appends the dataset to the relational sink. The writes are
// sequential and never rolled back across each other; the first failure
// aborts the pass and is surfaced as-is.
func (ing *Ingestor) deliver(ctx context.Context, sourceName string, raw []byte, rawContentType string, ds pipeline.Dataset, dropped int, message string) (Result, error) {
	runID := uuid.NewString()
	rawKey := "raw/" + sourceName
	processedKey := "processed/" + strings.TrimSuffix(sourceName, path.Ext(sourceName)) + ".csv"

	if err := ing.objects.EnsureBucket(ctx, ing.cfg.Bucket); err != nil {
		return Result{}, err
	}
	if err := ing.objects.Put(ctx, ing.cfg.Bucket, rawKey, raw, rawContentType); err != nil {
		return Result{}, err
	}
	if err := ing.objects.Put(ctx, ing.cfg.Bucket, processedKey, ds.EncodeCSV(), "text/csv"); err != nil {
		return Result{}, err
	}

	written, err := ing.rows.AppendRows(ctx, ing.cfg.Table, ds)
	if err != nil {
		return Result{}, err
	}

	log.Printf("run=%s source=%s rows=%d dropped=%d bucket=%s", runID, sourceName, written, dropped, ing.cfg.Bucket)

	// The sink never deduplicates across runs; report overlap so operators
	// can see when a re-ingestion doubled a time range.
	if counter, ok := ing.rows.(RangeCounter); ok && len(ds) > 0 {
		from, to := ds[0].Timestamp, ds[len(ds)-1].Timestamp
		if total, err := counter.CountRange(ctx, ing.cfg.Table, from, to); err == nil && total > written {
			log.Printf("run=%s overlap: table %s already held %d rows in [%s, %s]", runID, ing.cfg.Table, total-written, from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
	}

	return Result{
		RunID:        runID,
		Bucket:       ing.cfg.Bucket,
		RawKey:       rawKey,
		ProcessedKey: processedKey,
		RowsWritten:  written,
		RowsDropped:  dropped,
		Message:      message,
	}, nil
}
