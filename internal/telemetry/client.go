// Package telemetry is the client for the remote IoT telemetry platform.
// It authenticates, resolves device names to identifiers and fetches each
// device's full per-variable time-series history.
package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

var (
	// ErrNoData means the platform answered but returned an empty
	// time-series result for the device.
	ErrNoData = errors.New("telemetry: device has no data")
	// ErrDeviceNotFound means the name lookup matched no device.
	ErrDeviceNotFound = errors.New("telemetry: device not found")
	// ErrCircuitOpen means the breaker is rejecting requests because the
	// platform kept failing; the platform itself was not contacted.
	ErrCircuitOpen = errors.New("telemetry: circuit open")
)

// APIError reports a non-2xx response from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telemetry api: unexpected status %d: %s", e.Status, e.Body)
}

// Reading is one data point of one variable's series.
type Reading struct {
	TS    int64  `json:"ts"` // epoch milliseconds
	Value string `json:"value"`
}

// Config carries the platform connection settings. Timeout bounds every
// request; past it the fetch fails outright, no retry.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the telemetry REST API. A circuit breaker sits in front
// of every request so a flapping platform fails fast instead of tying up
// ingestion calls. One client is shared by all concurrent ingestion
// callers; the token is the only mutable state and is guarded by mu.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	user    string
	pass    string

	mu    sync.Mutex
	token string
}

// New constructs a client; no network traffic happens until Login.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemetry",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		base:    cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		user:    cfg.Username,
		pass:    cfg.Password,
	}
}

// Login obtains a bearer token for subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.user,
		"password": c.pass,
	})
	if err != nil {
		return err
	}

	data, err := c.do(ctx, http.MethodPost, "/auth/login", bytes.NewReader(body), false)
	if err != nil {
		return err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("telemetry: decode login response: %w", err)
	}
	if payload.Token == "" {
		return errors.New("telemetry: login response has no token")
	}

	c.mu.Lock()
	c.token = payload.Token
	c.mu.Unlock()
	return nil
}

// DeviceID resolves a device name to its platform identifier.
func (c *Client) DeviceID(ctx context.Context, name string) (string, error) {
	path := "/devices?name=" + url.QueryEscape(name)
	data, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("telemetry: decode device response: %w", err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return payload.ID, nil
}

// Timeseries fetches the device's full history: one series of readings per
// telemetry variable. Returns the decoded series plus the raw response
// bytes so the caller can persist the payload untouched. An empty result
// yields ErrNoData.
func (c *Client) Timeseries(ctx context.Context, deviceID string) (map[string][]Reading, []byte, error) {
	path := "/telemetry/" + url.PathEscape(deviceID) + "/values/timeseries"
	data, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, nil, err
	}

	var series map[string][]Reading
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, nil, fmt.Errorf("telemetry: decode timeseries response: %w", err)
	}
	if len(series) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoData, deviceID)
	}
	return series, data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, auth bool) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if auth {
			c.mu.Lock()
			token := c.token
			c.mu.Unlock()
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("telemetry request %s: %w", path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("telemetry read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return result.([]byte), nil
}
