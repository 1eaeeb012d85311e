// Package airflow triggers DAG runs through the Airflow 3 REST API.
package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed response is kept in errors.
const maxErrorBody = 4096

// DagRun is the API's view of a triggered run.
type DagRun struct {
	DagRunID               string            `json:"dag_run_id"`
	DagID                  string            `json:"dag_id"`
	LogicalDate            time.Time         `json:"logical_date"`
	QueuedAt               time.Time         `json:"queued_at"`
	StartDate              *time.Time        `json:"start_date,omitempty"`
	EndDate                *time.Time        `json:"end_date,omitempty"`
	DataIntervalStart      *time.Time        `json:"data_interval_start,omitempty"`
	DataIntervalEnd        *time.Time        `json:"data_interval_end,omitempty"`
	RunAfter               *time.Time        `json:"run_after,omitempty"`
	LastSchedulingDecision *time.Time        `json:"last_scheduling_decision,omitempty"`
	RunType                string            `json:"run_type"`
	State                  string            `json:"state"`
	TriggeredBy            string            `json:"triggered_by"`
	Conf                   map[string]string `json:"conf,omitempty"`
	Note                   *string           `json:"note,omitempty"`
	DagVersions            []map[string]any  `json:"dag_versions,omitempty"`
	BundleVersion          *string           `json:"bundle_version,omitempty"`
}

// APIError is returned when Airflow answers with an unexpected status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one Airflow API server.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient creates a Client for the API server at baseURL
// (e.g. http://localhost:8082).
func NewClient(baseURL, username, password string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     httpClient,
		logger:   logger,
		now:      time.Now,
	}
}

// Token exchanges the configured credentials for a JWT.
func (c *Client) Token(ctx context.Context) (string, error) {
	body := map[string]string{"username": c.username, "password": c.password}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.post(ctx, "get token", "/auth/token", "", body, http.StatusCreated, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("get token: access_token missing from response")
	}
	return out.AccessToken, nil
}

// TriggerDag starts a run of dagID with the current time as logical date.
func (c *Client) TriggerDag(ctx context.Context, dagID string) (*DagRun, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]string{"logical_date": c.now().UTC().Format(time.RFC3339Nano)}
	path := "/api/v2/dags/" + url.PathEscape(dagID) + "/dagRuns"

	var run DagRun
	if err := c.post(ctx, "start dag run", path, token, body, http.StatusOK, &run); err != nil {
		return nil, err
	}
	c.logger.Info("dag run started",
		zap.String("dag_id", run.DagID),
		zap.String("dag_run_id", run.DagRunID),
		zap.String("state", run.State))
	return &run, nil
}

func (c *Client) post(ctx context.Context, op, path, token string, in any, want int, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("airflow request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: parse json: %w", op, err)
	}
	return nil
}
