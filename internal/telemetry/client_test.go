package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newTestServer(t *testing.T, series map[string][]Reading) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username != "station" || creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})

	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("name") != "salgueiro-a370" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dev-1"})
	})

	mux.HandleFunc("/telemetry/dev-1/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(series)
	})

	return httptest.NewServer(mux)
}

func newTestClient(url string) *Client {
	return New(Config{
		BaseURL:  url,
		Username: "station",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
}

func TestClientHappyPath(t *testing.T) {
	series := map[string][]Reading{
		"temperature": {{TS: 1717243200000, Value: "30"}},
		"humidity":    {{TS: 1717243200000, Value: "40"}},
	}
	srv := newTestServer(t, series)
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	id, err := c.DeviceID(ctx, "salgueiro-a370")
	if err != nil {
		t.Fatalf("device lookup: %v", err)
	}
	if id != "dev-1" {
		t.Errorf("device id = %q, want dev-1", id)
	}

	got, raw, err := c.Timeseries(ctx, id)
	if err != nil {
		t.Fatalf("timeseries: %v", err)
	}
	if len(raw) == 0 {
		t.Error("raw payload bytes should be returned")
	}
	if len(got["temperature"]) != 1 || got["temperature"][0].Value != "30" {
		t.Errorf("temperature series = %+v", got["temperature"])
	}
}

func TestClientBadCredentials(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "station", Password: "wrong", Timeout: 5 * time.Second})
	err := c.Login(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
}

func TestClientDeviceNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := c.DeviceID(ctx, "unknown-station")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError for unknown device, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.Status)
	}
}

func TestClientConcurrentCallers(t *testing.T) {
	series := map[string][]Reading{
		"temperature": {{TS: 1717243200000, Value: "30"}},
	}
	srv := newTestServer(t, series)
	defer srv.Close()

	// One client is shared by all HTTP callers and every ingestion pass
	// logs in, so token writes and reads happen concurrently.
	c := newTestClient(srv.URL)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			if err := c.Login(ctx); err != nil {
				errCh <- err
				return
			}
			if _, err := c.DeviceID(ctx, "salgueiro-a370"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent caller failed: %v", err)
	}
}

func TestClientCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	// The breaker trips after more than five consecutive failures; until
	// then each call reaches the platform and fails with its status.
	for i := 0; i < 6; i++ {
		err := c.Login(ctx)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("call %d: expected APIError, got %v", i, err)
		}
	}

	err := c.Login(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once tripped, got %v", err)
	}
}

func TestClientEmptyTimeseries(t *testing.T) {
	srv := newTestServer(t, map[string][]Reading{})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, _, err := c.Timeseries(ctx, "dev-1")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}
