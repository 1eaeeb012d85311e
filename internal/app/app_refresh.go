package app

import (
	"context"
	"errors"
	"net/http"

	"crashcounter/internal/airflow"
	"crashcounter/internal/etl"
	"crashcounter/internal/secret"
	"crashcounter/internal/service"
	"crashcounter/internal/storage"
)

// ============================================================
// Refresh
// ============================================================

var errNotStarted = errors.New("app not started")

// Datasets returns the configured descriptors in sweep order.
func (a *App) Datasets() []*etl.Descriptor {
	return a.cfg.Datasets()
}

// Refresh sweeps the datasets matched by selector (person, crash, vehicle
// or all).
func (a *App) Refresh(ctx context.Context, selector string, keepGoing bool) ([]*etl.RefreshResult, error) {
	if a.refresh == nil {
		return nil, errNotStarted
	}
	ds, err := etl.Select(selector, a.Datasets())
	if err != nil {
		return nil, err
	}
	return a.refresh.Sweep(ctx, ds, keepGoing, service.TriggerCLI)
}

// StartSchedule runs the full sweep on the configured cron expression.
func (a *App) StartSchedule(ctx context.Context) error {
	if a.refresh == nil {
		return errNotStarted
	}
	return a.refresh.StartSchedule(ctx, a.cfg.Sweep.Schedule, a.Datasets(), a.cfg.Sweep.KeepGoing)
}

// NextRun reports the next scheduled sweep.
func (a *App) NextRun() string {
	if a.refresh == nil || a.refresh.NextRun().IsZero() {
		return ""
	}
	return a.refresh.NextRun().Format("2006-01-02 15:04:05 MST")
}

// ListRuns returns recent refresh history. It only reads the state DB.
func (a *App) ListRuns(ctx context.Context, dataset string, limit int) ([]storage.Run, error) {
	if err := a.openState(); err != nil {
		return nil, err
	}
	if dataset == etl.DatasetAll {
		dataset = ""
	}
	if dataset != "" {
		if _, err := etl.Select(dataset, a.Datasets()); err != nil {
			return nil, err
		}
	}
	return a.runs.ListRuns(ctx, dataset, limit)
}

// ============================================================
// Orchestrator
// ============================================================

// TriggerDag starts a run of dagID (the configured DAG when empty) on the
// Airflow API server.
func (a *App) TriggerDag(ctx context.Context, dagID string) (*airflow.DagRun, error) {
	if dagID == "" {
		dagID = a.cfg.Airflow.DagID
	}
	creds, err := secret.RequireAll(a.secrets, secret.AirflowUser, secret.AirflowPassword)
	if err != nil {
		return nil, err
	}
	client := airflow.NewClient(a.cfg.Airflow.URL,
		creds[secret.AirflowUser], creds[secret.AirflowPassword],
		&http.Client{Timeout: a.cfg.Airflow.Timeout}, a.logger)
	return client.TriggerDag(ctx, dagID)
}
