package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
)

const (
	defaultObjectEndpoint   = "minio:9000"
	defaultObjectAccessKey  = "minioadmin"
	defaultObjectSecretKey  = "minioadmin"
	defaultObjectRegion     = "us-east-1"
	defaultBucket           = "inmet-raw"
	defaultTable            = "medidas_salgueiro"
	defaultLocalPath        = "/data/INMET_NE_PE_A370_SALGUEIRO_01-01-2024_A_31-12-2024.CSV"
	defaultLocalSourceName  = "INMET_SALGUEIRO_2024.csv"
	defaultTelemetryTimeout = 30 * time.Second
	defaultPort             = 8080
)

// Config holds environment-driven settings for the ingestion service.
// Constructed once in main and passed explicitly to each component; no
// package reads the environment on its own.
type Config struct {
	Port        int
	BearerToken string

	DatabaseURL string
	Table       string

	ObjectEndpoint  string
	ObjectAccessKey string
	ObjectSecretKey string
	ObjectRegion    string
	ObjectPathStyle bool
	Bucket          string

	LocalCSVPath    string
	LocalSourceName string
	HeaderOffset    int

	TelemetryURL      string
	TelemetryUsername string
	TelemetryPassword string
	TelemetryTimeout  time.Duration

	RequiredMeasurements []string
	TieBreak             pipeline.TieBreak
}

// Load reads configuration from environment variables (optionally .env).
// Object-store settings default to the development MinIO placeholders.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                 defaultPort,
		Table:                defaultTable,
		ObjectEndpoint:       defaultObjectEndpoint,
		ObjectAccessKey:      defaultObjectAccessKey,
		ObjectSecretKey:      defaultObjectSecretKey,
		ObjectRegion:         defaultObjectRegion,
		ObjectPathStyle:      true,
		Bucket:               defaultBucket,
		LocalCSVPath:         defaultLocalPath,
		LocalSourceName:      defaultLocalSourceName,
		HeaderOffset:         8,
		TelemetryTimeout:     defaultTelemetryTimeout,
		RequiredMeasurements: append([]string(nil), pipeline.CanonicalFields...),
		TieBreak:             pipeline.FirstWins,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return cfg, fmt.Errorf("invalid PORT: %s", v)
		}
		cfg.Port = port
	}
	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	if v := strings.TrimSpace(os.Getenv("SINK_TABLE")); v != "" {
		cfg.Table = v
	}

	if v := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")); v != "" {
		cfg.ObjectEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY")); v != "" {
		cfg.ObjectAccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY")); v != "" {
		cfg.ObjectSecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_REGION")); v != "" {
		cfg.ObjectRegion = v
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_PATH_STYLE")); v != "" {
		cfg.ObjectPathStyle = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_BUCKET")); v != "" {
		cfg.Bucket = v
	}

	if v := strings.TrimSpace(os.Getenv("LOCAL_CSV_PATH")); v != "" {
		cfg.LocalCSVPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LOCAL_SOURCE_NAME")); v != "" {
		cfg.LocalSourceName = v
	}
	if v := strings.TrimSpace(os.Getenv("CSV_HEADER_OFFSET")); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return cfg, fmt.Errorf("invalid CSV_HEADER_OFFSET: %s", v)
		}
		cfg.HeaderOffset = offset
	}

	cfg.TelemetryURL = strings.TrimSpace(os.Getenv("TELEMETRY_URL"))
	cfg.TelemetryUsername = strings.TrimSpace(os.Getenv("TELEMETRY_USERNAME"))
	cfg.TelemetryPassword = os.Getenv("TELEMETRY_PASSWORD")
	if v := strings.TrimSpace(os.Getenv("TELEMETRY_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TELEMETRY_TIMEOUT: %w", err)
		}
		cfg.TelemetryTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("REQUIRED_MEASUREMENTS")); v != "" {
		fields := strings.Split(v, ",")
		required := make([]string, 0, len(fields))
		for _, f := range fields {
			name := strings.TrimSpace(f)
			if name == "" {
				continue
			}
			if !isCanonicalField(name) {
				return cfg, fmt.Errorf("invalid REQUIRED_MEASUREMENTS entry: %s", name)
			}
			required = append(required, name)
		}
		cfg.RequiredMeasurements = required
	}

	if v := strings.TrimSpace(os.Getenv("CONSOLIDATE_TIE_BREAK")); v != "" {
		switch strings.ToLower(v) {
		case "first":
			cfg.TieBreak = pipeline.FirstWins
		case "last":
			cfg.TieBreak = pipeline.LastWins
		default:
			return cfg, fmt.Errorf("invalid CONSOLIDATE_TIE_BREAK: %s (want first or last)", v)
		}
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func isCanonicalField(name string) bool {
	for _, f := range pipeline.CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}
