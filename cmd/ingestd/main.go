package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vmeireles/inmet-pipeline/internal/config"
	"github.com/vmeireles/inmet-pipeline/internal/db"
	"github.com/vmeireles/inmet-pipeline/internal/httpapi"
	"github.com/vmeireles/inmet-pipeline/internal/ingest"
	"github.com/vmeireles/inmet-pipeline/internal/objstore"
	"github.com/vmeireles/inmet-pipeline/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	objects, err := objstore.New(ctx, objstore.Config{
		Endpoint:  cfg.ObjectEndpoint,
		AccessKey: cfg.ObjectAccessKey,
		SecretKey: cfg.ObjectSecretKey,
		Region:    cfg.ObjectRegion,
		PathStyle: cfg.ObjectPathStyle,
	})
	if err != nil {
		log.Fatalf("object store error: %v", err)
	}

	var telem ingest.TelemetrySource
	if cfg.TelemetryURL != "" {
		telem = telemetry.New(telemetry.Config{
			BaseURL:  cfg.TelemetryURL,
			Username: cfg.TelemetryUsername,
			Password: cfg.TelemetryPassword,
			Timeout:  cfg.TelemetryTimeout,
		})
	}

	ingestor, err := ingest.New(cfg, objects, store, telem)
	if err != nil {
		log.Fatalf("ingestor error: %v", err)
	}

	srv := httpapi.New(cfg, ingestor)
	log.Printf("ingestion API listening on %s", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
