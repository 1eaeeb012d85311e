package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"crashcounter/internal/etl"
	"crashcounter/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Refresh Service: run history, single-flight and scheduling
// around the refresh engine
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning is returned when a refresh for the same dataset is in
// progress in this process.
var ErrAlreadyRunning = errors.New("refresh already running")

// Trigger labels who started a run.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
)

// Refresher runs one dataset refresh. *etl.Engine implements it.
type Refresher interface {
	Refresh(ctx context.Context, d *etl.Descriptor) (*etl.RefreshResult, error)
}

// RunRecorder persists run history. *storage.RunStore implements it.
type RunRecorder interface {
	CreateRun(ctx context.Context, r *storage.Run) error
	FinishRun(ctx context.Context, r *storage.Run) error
}

// RefreshService wraps a Refresher with run logging, a per-dataset guard
// and an optional cron schedule.
type RefreshService struct {
	engine  Refresher
	runs    RunRecorder
	logger  *zap.Logger
	guard   datasetGuard

	cronSched *cron.Cron
}

// NewRefreshService creates a RefreshService. runs may be nil to skip
// run history.
func NewRefreshService(engine Refresher, runs RunRecorder, logger *zap.Logger) *RefreshService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshService{engine: engine, runs: runs, logger: logger}
}

// ── Run ────────────────────────────────────────────────────

// RefreshDataset refreshes d and records the run.
func (s *RefreshService) RefreshDataset(ctx context.Context, d *etl.Descriptor, trigger string) (*etl.RefreshResult, error) {
	if !s.guard.Acquire(d.Name) {
		return nil, fmt.Errorf("%s: %w", d.Name, ErrAlreadyRunning)
	}
	defer s.guard.Release(d.Name)

	run := &storage.Run{Dataset: d.Name, TriggeredBy: trigger}
	if s.runs != nil {
		if err := s.runs.CreateRun(ctx, run); err != nil {
			// History is best effort; the refresh still runs.
			s.logger.Warn("could not record run start", zap.String("dataset", d.Name), zap.Error(err))
		}
	}

	result, runErr := s.engine.Refresh(ctx, d)

	if s.runs != nil && run.ID != "" {
		applyResult(run, result, runErr)
		// The refresh context may already be cancelled; history still gets written.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.runs.FinishRun(finishCtx, run); err != nil {
			s.logger.Warn("could not record run result", zap.String("dataset", d.Name), zap.Error(err))
		}
	}
	return result, runErr
}

func applyResult(run *storage.Run, result *etl.RefreshResult, err error) {
	run.Status = storage.RunSuccess
	if result != nil {
		if result.Frontier != nil {
			run.Frontier = fmt.Sprint(result.Frontier)
		}
		run.Pages = result.Pages
		run.Inserted = result.Inserted
		run.Merged = result.Merged
		run.StopReason = string(result.StopReason)
		run.Duration = result.Duration
	}
	if err != nil {
		run.Status = storage.RunFailed
		run.ErrorKind = etl.ErrorKind(err)
		run.Error = err.Error()
	}
}

// Sweep refreshes ds in order through RefreshDataset, so every dataset is
// guarded and recorded. The halt/keep-going policy is etl.Sweep's.
func (s *RefreshService) Sweep(ctx context.Context, ds []*etl.Descriptor, keepGoing bool, trigger string) ([]*etl.RefreshResult, error) {
	start := time.Now()
	results, err := etl.Sweep(ctx, ds, keepGoing, func(ctx context.Context, d *etl.Descriptor) (*etl.RefreshResult, error) {
		return s.RefreshDataset(ctx, d, trigger)
	})
	if err != nil && !keepGoing {
		s.logger.Error("sweep halted", zap.Int("completed", len(results)), zap.Error(err))
		return results, err
	}
	s.logger.Info("sweep finished",
		zap.Int("datasets", len(ds)),
		zap.Int("results", len(results)),
		zap.Bool("failed", err != nil),
		zap.Duration("elapsed", time.Since(start)))
	return results, err
}

// ── Schedule ──────────────────────────────────────────────

// StartSchedule runs a sweep of ds on the cron expression spec until Stop
// is called. A tick that fires while the previous sweep is still running
// is skipped.
func (s *RefreshService) StartSchedule(ctx context.Context, spec string, ds []*etl.Descriptor, keepGoing bool) error {
	s.stopSchedule()

	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(spec, func() {
		s.logger.Info("scheduled sweep starting", zap.Int("datasets", len(ds)))
		if _, err := s.Sweep(ctx, ds, keepGoing, TriggerSchedule); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	s.cronSched = c
	s.logger.Info("sweep scheduled", zap.String("schedule", spec))
	return nil
}

// NextRun returns the next scheduled sweep, or the zero time when no
// schedule is active.
func (s *RefreshService) NextRun() time.Time {
	if s.cronSched == nil {
		return time.Time{}
	}
	entries := s.cronSched.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Running returns the datasets currently refreshing.
func (s *RefreshService) Running() []string {
	return s.guard.Active()
}

// WaitRunning blocks until all running refreshes finish or ctx is cancelled.
func (s *RefreshService) WaitRunning(ctx context.Context) {
	s.guard.Wait(ctx)
}

// Stop tears down the schedule. Refreshes already running are not
// interrupted; use WaitRunning to wait for them.
func (s *RefreshService) Stop() {
	s.stopSchedule()
}

func (s *RefreshService) stopSchedule() {
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
