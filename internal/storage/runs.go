package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a recorded refresh.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one row of refresh history.
type Run struct {
	ID          string        `json:"id"`
	Dataset     string        `json:"dataset"`
	TriggeredBy string        `json:"triggeredBy"` // "cli" or "schedule"
	Host        string        `json:"host"`
	PID         int           `json:"pid"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
	Status      RunStatus     `json:"status"`
	Frontier    string        `json:"frontier,omitempty"`
	Pages       int           `json:"pages"`
	Inserted    int           `json:"inserted"`
	Merged      int           `json:"merged"`
	StopReason  string        `json:"stopReason,omitempty"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RunStore persists refresh history. Runs are stamped with the host and
// pid of the process that created them.
type RunStore struct {
	db    *DB
	host  string
	pid   int
	alive func(pid int) bool
}

// RunStoreOption configures a RunStore.
type RunStoreOption func(*RunStore)

// WithOwner overrides the host and pid stamped on new runs.
func WithOwner(host string, pid int) RunStoreOption {
	return func(s *RunStore) { s.host, s.pid = host, pid }
}

// WithProcessCheck overrides how MarkOrphaned decides a pid is still running.
func WithProcessCheck(alive func(pid int) bool) RunStoreOption {
	return func(s *RunStore) { s.alive = alive }
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB, opts ...RunStoreOption) *RunStore {
	host, _ := os.Hostname()
	s := &RunStore{db: db, host: host, pid: os.Getpid(), alive: processAlive}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// processAlive reports whether pid exists on this host. Anything other than
// a definite "no such process" counts as alive.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return !errors.Is(p.Signal(syscall.Signal(0)), os.ErrProcessDone)
}

// CreateRun records r as running and assigns its ID.
func (s *RunStore) CreateRun(ctx context.Context, r *Run) error {
	r.ID = uuid.New().String()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.TriggeredBy == "" {
		r.TriggeredBy = "cli"
	}
	r.Status = RunRunning
	r.Host, r.PID = s.host, s.pid

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO refresh_runs (id, dataset, triggered_by, host, pid, started_at, status, frontier)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Dataset, r.TriggeredBy, r.Host, r.PID, r.StartedAt, r.Status, r.Frontier,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome fields of r.
func (s *RunStore) FinishRun(ctx context.Context, r *Run) error {
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE refresh_runs SET finished_at=?, status=?, frontier=?, pages=?, inserted=?, merged=?,
		 stop_reason=?, error_kind=?, error=?, duration_ms=? WHERE id=?`,
		*r.FinishedAt, r.Status, r.Frontier, r.Pages, r.Inserted, r.Merged,
		r.StopReason, r.ErrorKind, r.Error, r.Duration.Milliseconds(), r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", r.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty dataset
// lists every dataset.
func (s *RunStore) ListRuns(ctx context.Context, dataset string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, dataset, triggered_by, host, pid, started_at, finished_at, status, frontier,
		 pages, inserted, merged, stop_reason, error_kind, error, duration_ms
		 FROM refresh_runs WHERE (? = '' OR dataset = ?)
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		dataset, dataset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Dataset, &r.TriggeredBy, &r.Host, &r.PID, &r.StartedAt, &finished, &r.Status,
			&r.Frontier, &r.Pages, &r.Inserted, &r.Merged, &r.StopReason, &r.ErrorKind, &r.Error,
			&durationMS); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkOrphaned closes runs left in the running state by a process on this
// host that no longer exists. Runs owned by other hosts, or by live
// processes, are left alone. A run carrying this process's own pid is a
// leftover from an earlier process that had the same pid, so MarkOrphaned
// must be called before this process starts refreshing. It returns how
// many runs were updated.
func (s *RunStore) MarkOrphaned(ctx context.Context) (int64, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, pid FROM refresh_runs WHERE status=? AND host=?`, RunRunning, s.host)
	if err != nil {
		return 0, fmt.Errorf("find running runs: %w", err)
	}
	var orphaned []string
	for rows.Next() {
		var id string
		var pid int
		if err := rows.Scan(&id, &pid); err != nil {
			rows.Close()
			return 0, err
		}
		if pid == s.pid || !s.alive(pid) {
			orphaned = append(orphaned, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var n int64
	for _, id := range orphaned {
		res, err := s.db.conn.ExecContext(ctx,
			`UPDATE refresh_runs SET status=?, finished_at=? WHERE id=? AND status=?`,
			RunInterrupted, now, id, RunRunning,
		)
		if err != nil {
			return n, fmt.Errorf("mark run %s interrupted: %w", id, err)
		}
		c, _ := res.RowsAffected()
		n += c
	}
	return n, nil
}
