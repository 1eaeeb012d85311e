package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crashcounter/internal/metrics"
)

// ── Refresh Engine ─────────────────────────────────────────
// Pages a remote collection newest-first until the locally known frontier
// shows up. Pages strictly newer than the frontier are inserted; the page
// holding the frontier is merged and ends the run.

// DefaultMaxPages bounds the page loop of a single refresh.
const DefaultMaxPages = 100

// StopReason records why a refresh ended.
type StopReason string

const (
	StopFrontier  StopReason = "frontier"
	StopShortPage StopReason = "short_page"
	StopMaxPages  StopReason = "max_pages"
)

// RefreshResult is the outcome of refreshing one dataset.
type RefreshResult struct {
	Dataset       string        `json:"dataset"`
	Frontier      any           `json:"frontier,omitempty"`
	FrontierFound bool          `json:"frontierFound"`
	Pages         int           `json:"pages"`
	Inserted      int           `json:"inserted"`
	Merged        int           `json:"merged"`
	StopReason    StopReason    `json:"stopReason,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Engine runs refreshes against one page source and one store.
type Engine struct {
	Source   PageSource
	Dest     Store
	MaxPages int
	Logger   *zap.Logger
	Metrics  *metrics.RefreshMetrics
}

func (e *Engine) maxPages() int {
	if e.MaxPages > 0 {
		return e.MaxPages
	}
	return DefaultMaxPages
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Refresh brings d's table up to date with the remote collection.
// The result is non-nil even when an error is returned.
func (e *Engine) Refresh(ctx context.Context, d *Descriptor) (*RefreshResult, error) {
	start := time.Now()
	result := &RefreshResult{Dataset: d.Name}
	log := e.logger().With(zap.String("dataset", d.Name))

	err := e.refresh(ctx, d, result, log)
	result.Duration = time.Since(start)
	if err != nil {
		e.Metrics.RecordError(d.Name, ErrorKind(err))
		log.Error("refresh failed",
			zap.Error(err),
			zap.Int("pages", result.Pages),
			zap.Duration("elapsed", result.Duration))
		return result, fmt.Errorf("refresh %s: %w", d.Name, err)
	}

	e.Metrics.RecordSuccess(d.Name)
	log.Info("refresh finished",
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("pages", result.Pages),
		zap.Int("inserted", result.Inserted),
		zap.Int("merged", result.Merged),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

func (e *Engine) refresh(ctx context.Context, d *Descriptor, result *RefreshResult, log *zap.Logger) error {
	frontier, ok, err := e.Dest.CurrentFrontier(ctx, d)
	if err != nil {
		return fmt.Errorf("current frontier: %w", err)
	}
	if ok {
		result.Frontier = frontier
		log.Info("refresh starting", zap.Any("frontier", frontier))
	} else {
		log.Info("refresh starting with empty table, backfilling")
	}

	pageSize := e.Source.PageSize()
	for i := 0; i < e.maxPages(); i++ {
		offset := i * pageSize
		log.Debug("fetching page",
			zap.Int("page", i),
			zap.Int("from", offset),
			zap.Int("to", offset+pageSize-1))

		fetchStart := time.Now()
		raw, err := e.Source.FetchPage(ctx, d.Endpoint, offset, d.FilterField, Descending)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		e.Metrics.RecordPage(d.Name, time.Since(fetchStart))
		result.Pages++

		records, err := ValidatePage(d, raw)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}

		if ok && containsKey(records, d, frontier) {
			log.Info("frontier found in page, merging and stopping", zap.Int("page", i))
			if err := e.write(ctx, d, records, SyncMerge, log); err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			result.Merged += len(records)
			result.FrontierFound = true
			result.StopReason = StopFrontier
			return nil
		}

		if err := e.write(ctx, d, records, SyncInsert, log); err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		result.Inserted += len(records)

		if len(raw) < pageSize {
			log.Info("short page, remote collection exhausted",
				zap.Int("page", i), zap.Int("records", len(raw)))
			result.StopReason = StopShortPage
			return nil
		}
	}

	log.Warn("page limit reached before frontier; next run continues the backfill",
		zap.Int("max_pages", e.maxPages()))
	result.StopReason = StopMaxPages
	return nil
}

func (e *Engine) write(ctx context.Context, d *Descriptor, records []Record, mode SyncMode, log *zap.Logger) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	log.Debug("writing batch", zap.String("mode", string(mode)), zap.Int("records", len(records)))
	if err := e.Dest.WriteBatch(ctx, d, records, mode); err != nil {
		return fmt.Errorf("%s batch: %w", mode, err)
	}
	e.Metrics.RecordRows(d.Name, string(mode), len(records))
	log.Info("batch written",
		zap.String("mode", string(mode)),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// containsKey reports whether any record's primary key equals key.
func containsKey(records []Record, d *Descriptor, key any) bool {
	for _, r := range records {
		if r.Key(d) == key {
			return true
		}
	}
	return false
}

// RefreshFunc refreshes one dataset. Engine.Refresh is one.
type RefreshFunc func(ctx context.Context, d *Descriptor) (*RefreshResult, error)

// Sweep runs refresh for every descriptor in order. By default the first
// failure stops the sweep, mirroring a chain of dependent tasks. With
// keepGoing the remaining datasets still run and all failures are joined.
func Sweep(ctx context.Context, ds []*Descriptor, keepGoing bool, refresh RefreshFunc) ([]*RefreshResult, error) {
	results := make([]*RefreshResult, 0, len(ds))
	var errs []error
	for _, d := range ds {
		res, err := refresh(ctx, d)
		if res != nil {
			results = append(results, res)
		}
		if err == nil {
			continue
		}
		if !keepGoing {
			return results, err
		}
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}
