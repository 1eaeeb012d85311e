package airflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dagRunJSON = `{
	"dag_run_id": "manual__2025-06-01T12:00:00+00:00",
	"dag_id": "refresh_nyc_opendata",
	"logical_date": "2025-06-01T12:00:00Z",
	"queued_at": "2025-06-01T12:00:01.123456Z",
	"start_date": null,
	"run_type": "manual",
	"state": "queued",
	"triggered_by": "rest_api",
	"conf": {}
}`

func fakeAirflow(t *testing.T, tokenStatus, runStatus int) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body["username"])
		assert.Equal(t, "s3cret", body["password"])
		w.WriteHeader(tokenStatus)
		_, _ = w.Write([]byte(`{"access_token": "jwt-abc", "token_type": "bearer"}`))
	})
	mux.HandleFunc("POST /api/v2/dags/{dag}/dagRuns", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		assert.Equal(t, "Bearer jwt-abc", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2025-06-01T12:00:00Z", body["logical_date"])
		w.WriteHeader(runStatus)
		if runStatus == http.StatusOK {
			_, _ = w.Write([]byte(dagRunJSON))
			return
		}
		_, _ = w.Write([]byte(`{"detail": "DAG with dag_id: 'nope' not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(url string) *Client {
	c := NewClient(url+"/", "admin", "s3cret", nil, nil)
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestTriggerDag(t *testing.T) {
	srv, seen := fakeAirflow(t, http.StatusCreated, http.StatusOK)

	run, err := newTestClient(srv.URL).TriggerDag(context.Background(), "refresh_nyc_opendata")
	require.NoError(t, err)

	assert.Equal(t, []string{"/auth/token", "/api/v2/dags/refresh_nyc_opendata/dagRuns"}, *seen)
	assert.Equal(t, "manual__2025-06-01T12:00:00+00:00", run.DagRunID)
	assert.Equal(t, "refresh_nyc_opendata", run.DagID)
	assert.Equal(t, "queued", run.State)
	assert.Equal(t, "rest_api", run.TriggeredBy)
	assert.Nil(t, run.StartDate)
	assert.True(t, run.LogicalDate.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestToken_WrongStatus(t *testing.T) {
	// Airflow answers 201 for a new token; anything else is a failure.
	srv, seen := fakeAirflow(t, http.StatusOK, http.StatusOK)

	_, err := newTestClient(srv.URL).TriggerDag(context.Background(), "refresh_nyc_opendata")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "get token", apiErr.Op)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Len(t, *seen, 1)
}

func TestToken_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Token(context.Background())
	assert.ErrorContains(t, err, "access_token missing")
}

func TestTriggerDag_UnknownDag(t *testing.T) {
	srv, _ := fakeAirflow(t, http.StatusCreated, http.StatusNotFound)

	_, err := newTestClient(srv.URL).TriggerDag(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "start dag run", apiErr.Op)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not found")
}
