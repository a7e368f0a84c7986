package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmeireles/inmet-pipeline/internal/config"
	"github.com/vmeireles/inmet-pipeline/internal/ingest"
	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
	"github.com/vmeireles/inmet-pipeline/internal/telemetry"
)

type stubService struct {
	result ingest.Result
	err    error

	uploadedName string
	uploadedLen  int
}

func (s *stubService) IngestUpload(ctx context.Context, filename string, payload []byte) (ingest.Result, error) {
	s.uploadedName = filename
	s.uploadedLen = len(payload)
	return s.result, s.err
}

func (s *stubService) IngestLocalFile(ctx context.Context) (ingest.Result, error) {
	return s.result, s.err
}

func (s *stubService) IngestTelemetry(ctx context.Context, deviceName string) (ingest.Result, error) {
	return s.result, s.err
}

func newTestServer(svc *stubService, bearer string) *Server {
	return New(config.Config{Port: 8080, BearerToken: bearer}, svc)
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubService{}, "")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestFileSuccess(t *testing.T) {
	svc := &stubService{result: ingest.Result{Bucket: "inmet-raw", RawKey: "raw/export.csv", RowsWritten: 4, Message: "uploaded file ingested"}}
	srv := newTestServer(svc, "")

	body, contentType := multipartBody(t, "export.csv", "Data;Hora UTC\n")
	req := httptest.NewRequest(http.MethodPost, "/inmet/ingest-file", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.uploadedName != "export.csv" || svc.uploadedLen == 0 {
		t.Errorf("service received name=%q len=%d", svc.uploadedName, svc.uploadedLen)
	}

	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.RowsWritten != 4 || res.Bucket != "inmet-raw" {
		t.Errorf("response = %+v", res)
	}
}

func TestIngestFileMissingField(t *testing.T) {
	srv := newTestServer(&stubService{}, "")
	req := httptest.NewRequest(http.MethodPost, "/inmet/ingest-file", bytes.NewReader(nil))

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported format", ingest.ErrUnsupportedFormat, http.StatusBadRequest},
		{"source not found", ingest.ErrSourceNotFound, http.StatusNotFound},
		{"schema mismatch", &pipeline.SchemaMismatchError{Column: "UMID"}, http.StatusUnprocessableEntity},
		{"no telemetry data", telemetry.ErrNoData, http.StatusNotFound},
		{"empty telemetry", pipeline.ErrEmptyTelemetry, http.StatusNotFound},
		{"device not found", telemetry.ErrDeviceNotFound, http.StatusNotFound},
		{"telemetry api error", &telemetry.APIError{Status: 500}, http.StatusBadGateway},
		{"telemetry circuit open", fmt.Errorf("%w: too many failures", telemetry.ErrCircuitOpen), http.StatusBadGateway},
		{"telemetry disabled", ingest.ErrTelemetryDisabled, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&stubService{err: tc.err}, "")
			rec := httptest.NewRecorder()
			srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inmet/ingest-local", nil))

			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTelemetryRoute(t *testing.T) {
	svc := &stubService{result: ingest.Result{RowsWritten: 2}}
	srv := newTestServer(svc, "")

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telemetry/ingest/salgueiro-a370", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(&stubService{}, "sesame")

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inmet/ingest-local", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/inmet/ingest-local", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
