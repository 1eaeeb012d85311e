package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashcounter/internal/etl"
	"crashcounter/internal/service"
	"crashcounter/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// RefreshService tests
// A scripted Refresher stands in for the engine; run history goes to a
// real SQLite state DB.
// ─────────────────────────────────────────────────────────────

type scriptedRefresher struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	block   chan struct{} // when set, Refresh waits on it
	started chan string
}

func (r *scriptedRefresher) Refresh(ctx context.Context, d *etl.Descriptor) (*etl.RefreshResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, d.Name)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- d.Name
	}
	if r.block != nil {
		<-r.block
	}

	res := &etl.RefreshResult{
		Dataset:    d.Name,
		Frontier:   int64(42),
		Pages:      2,
		Inserted:   1000,
		Merged:     1000,
		StopReason: etl.StopFrontier,
		Duration:   250 * time.Millisecond,
	}
	if err := r.fail[d.Name]; err != nil {
		return res, err
	}
	return res, nil
}

func (r *scriptedRefresher) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newRunStore(t *testing.T) *storage.RunStore {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewRunStore(db)
}

func TestRefreshService_RecordsSuccessfulRun(t *testing.T) {
	runs := newRunStore(t)
	svc := service.NewRefreshService(&scriptedRefresher{}, runs, nil)

	res, err := svc.RefreshDataset(context.Background(), etl.Person, service.TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Inserted)

	got, err := runs.ListRuns(context.Background(), "person", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	run := got[0]
	assert.Equal(t, storage.RunSuccess, run.Status)
	assert.Equal(t, "42", run.Frontier)
	assert.Equal(t, "frontier", run.StopReason)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 1000, run.Inserted)
	assert.Equal(t, 1000, run.Merged)
	assert.Equal(t, 250*time.Millisecond, run.Duration)
	assert.Equal(t, service.TriggerCLI, run.TriggeredBy)
}

func TestRefreshService_RecordsFailedRun(t *testing.T) {
	runs := newRunStore(t)
	fetchErr := &etl.FetchError{URL: "https://data.example/crash.json", StatusCode: 500, Body: "boom"}
	svc := service.NewRefreshService(&scriptedRefresher{fail: map[string]error{"crash": fetchErr}}, runs, nil)

	_, err := svc.RefreshDataset(context.Background(), etl.Crash, service.TriggerSchedule)
	require.ErrorIs(t, err, etl.ErrFetch)

	got, err := runs.ListRuns(context.Background(), "crash", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, storage.RunFailed, got[0].Status)
	assert.Equal(t, "fetch", got[0].ErrorKind)
	assert.NotEmpty(t, got[0].Error)
}

func TestRefreshService_NilRunStore(t *testing.T) {
	svc := service.NewRefreshService(&scriptedRefresher{}, nil, nil)
	_, err := svc.RefreshDataset(context.Background(), etl.Vehicle, service.TriggerCLI)
	require.NoError(t, err)
}

func TestRefreshService_RejectsConcurrentRefreshOfSameDataset(t *testing.T) {
	ref := &scriptedRefresher{block: make(chan struct{}), started: make(chan string, 1)}
	svc := service.NewRefreshService(ref, nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.RefreshDataset(context.Background(), etl.Person, service.TriggerCLI)
		errc <- err
	}()
	<-ref.started

	assert.Equal(t, []string{"person"}, svc.Running())

	_, err := svc.RefreshDataset(context.Background(), etl.Person, service.TriggerCLI)
	require.ErrorIs(t, err, service.ErrAlreadyRunning)

	close(ref.block)
	require.NoError(t, <-errc)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.WaitRunning(ctx)
	assert.Empty(t, svc.Running())
}

// ─────────────────────────────────────────────────────────────
// Sweep
// ─────────────────────────────────────────────────────────────

func TestRefreshService_SweepHaltsByDefault(t *testing.T) {
	runs := newRunStore(t)
	ref := &scriptedRefresher{fail: map[string]error{"crash": errors.New("store down")}}
	svc := service.NewRefreshService(ref, runs, nil)

	results, err := svc.Sweep(context.Background(), etl.Datasets(), false, service.TriggerCLI)
	require.Error(t, err)
	assert.Equal(t, []string{"person", "crash"}, ref.Calls())
	assert.Len(t, results, 2)

	all, err := runs.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRefreshService_SweepPersonFetchErrorSkipsRest(t *testing.T) {
	runs := newRunStore(t)
	fetchErr := &etl.FetchError{URL: etl.Person.Endpoint, StatusCode: 503, Body: "unavailable"}
	ref := &scriptedRefresher{fail: map[string]error{"person": fetchErr}}
	svc := service.NewRefreshService(ref, runs, nil)

	results, err := svc.Sweep(context.Background(), etl.Datasets(), false, service.TriggerSchedule)
	require.ErrorIs(t, err, etl.ErrFetch)
	assert.Equal(t, []string{"person"}, ref.Calls())
	require.Len(t, results, 1)

	all, err := runs.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "person", all[0].Dataset)
	assert.Equal(t, storage.RunFailed, all[0].Status)
	assert.Equal(t, "fetch", all[0].ErrorKind)
}

func TestRefreshService_SweepKeepGoing(t *testing.T) {
	ref := &scriptedRefresher{fail: map[string]error{"person": errors.New("store down")}}
	svc := service.NewRefreshService(ref, nil, nil)

	results, err := svc.Sweep(context.Background(), etl.Datasets(), true, service.TriggerCLI)
	require.Error(t, err)
	assert.Equal(t, []string{"person", "crash", "vehicle"}, ref.Calls())
	assert.Len(t, results, 3)
}

// ─────────────────────────────────────────────────────────────
// Schedule
// ─────────────────────────────────────────────────────────────

func TestRefreshService_StartScheduleInvalidSpec(t *testing.T) {
	svc := service.NewRefreshService(&scriptedRefresher{}, nil, nil)
	require.Error(t, svc.StartSchedule(context.Background(), "whenever", etl.Datasets(), false))
	assert.True(t, svc.NextRun().IsZero())
}

func TestRefreshService_ScheduleRunsSweep(t *testing.T) {
	ref := &scriptedRefresher{started: make(chan string, 8)}
	svc := service.NewRefreshService(ref, nil, nil)

	require.NoError(t, svc.StartSchedule(context.Background(), "@every 1s", []*etl.Descriptor{etl.Vehicle}, false))
	defer svc.Stop()
	assert.False(t, svc.NextRun().IsZero())

	select {
	case name := <-ref.started:
		assert.Equal(t, "vehicle", name)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled sweep did not run")
	}
}

func TestRefreshService_Stop_Idempotent(t *testing.T) {
	svc := service.NewRefreshService(&scriptedRefresher{}, nil, nil)
	svc.Stop()
	svc.Stop()
	assert.True(t, svc.NextRun().IsZero())
}
