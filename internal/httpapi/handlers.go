package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vmeireles/inmet-pipeline/internal/db"
	"github.com/vmeireles/inmet-pipeline/internal/ingest"
	"github.com/vmeireles/inmet-pipeline/internal/objstore"
	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
	"github.com/vmeireles/inmet-pipeline/internal/telemetry"
)

func (s *Server) handleIngestFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open uploaded file"})
		return
	}
	defer f.Close()

	payload, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}

	result, err := s.svc.IngestUpload(c.Request.Context(), fileHeader.Filename, payload)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleIngestLocal(c *gin.Context) {
	result, err := s.svc.IngestLocalFile(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleIngestTelemetry(c *gin.Context) {
	deviceName := c.Param("device_name")
	if deviceName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_name is required"})
		return
	}

	result, err := s.svc.IngestTelemetry(c.Request.Context(), deviceName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps the ingestion error taxonomy onto HTTP statuses. Every
// failure is terminal for the invocation; the body carries a stable,
// human-readable message.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var schemaErr *pipeline.SchemaMismatchError
	var apiErr *telemetry.APIError

	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrSourceNotFound),
		errors.Is(err, telemetry.ErrDeviceNotFound):
		status = http.StatusNotFound
	case errors.As(err, &schemaErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, telemetry.ErrNoData),
		errors.Is(err, pipeline.ErrEmptyTelemetry):
		status = http.StatusNotFound
	case errors.As(err, &apiErr),
		errors.Is(err, telemetry.ErrCircuitOpen),
		errors.Is(err, ingest.ErrTelemetryDisabled):
		status = http.StatusBadGateway
	case errors.Is(err, objstore.ErrUnavailable),
		errors.Is(err, objstore.ErrWrite),
		errors.Is(err, db.ErrAppend):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
