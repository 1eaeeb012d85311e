// Package metrics holds the Prometheus instruments for refresh runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefreshMetrics holds Prometheus metrics for dataset refreshes.
// A nil *RefreshMetrics is valid and records nothing.
type RefreshMetrics struct {
	// PagesFetchedTotal counts remote pages fetched per dataset.
	PagesFetchedTotal *prometheus.CounterVec
	// RowsWrittenTotal counts rows written per dataset and mode (insert/merge).
	RowsWrittenTotal *prometheus.CounterVec
	// FetchDurationSeconds tracks remote page fetch latency.
	FetchDurationSeconds *prometheus.HistogramVec
	// RefreshErrorsTotal counts failed refreshes by error kind.
	RefreshErrorsTotal *prometheus.CounterVec
	// LastSuccessTimestamp records when a dataset last refreshed cleanly.
	LastSuccessTimestamp *prometheus.GaugeVec
}

// NewRefreshMetrics creates the refresh metrics and registers them on reg.
func NewRefreshMetrics(reg prometheus.Registerer) *RefreshMetrics {
	factory := promauto.With(reg)
	return &RefreshMetrics{
		PagesFetchedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crashcounter_pages_fetched_total",
			Help: "Total number of remote pages fetched",
		}, []string{"dataset"}),
		RowsWrittenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crashcounter_rows_written_total",
			Help: "Total number of rows written to the store by write mode",
		}, []string{"dataset", "mode"}),
		FetchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crashcounter_fetch_duration_seconds",
			Help:    "Duration of remote page fetches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"dataset"}),
		RefreshErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crashcounter_refresh_errors_total",
			Help: "Total number of failed refreshes by error kind",
		}, []string{"dataset", "kind"}),
		LastSuccessTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crashcounter_last_success_timestamp",
			Help: "Unix timestamp of the last successful refresh",
		}, []string{"dataset"}),
	}
}

// RecordPage observes one fetched page.
func (m *RefreshMetrics) RecordPage(dataset string, d time.Duration) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(dataset).Inc()
	m.FetchDurationSeconds.WithLabelValues(dataset).Observe(d.Seconds())
}

// RecordRows adds n rows written with mode.
func (m *RefreshMetrics) RecordRows(dataset, mode string, n int) {
	if m == nil {
		return
	}
	m.RowsWrittenTotal.WithLabelValues(dataset, mode).Add(float64(n))
}

// RecordError increments the error counter for kind.
func (m *RefreshMetrics) RecordError(dataset, kind string) {
	if m == nil {
		return
	}
	m.RefreshErrorsTotal.WithLabelValues(dataset, kind).Inc()
}

// RecordSuccess sets the last-success timestamp to now.
func (m *RefreshMetrics) RecordSuccess(dataset string) {
	if m == nil {
		return
	}
	m.LastSuccessTimestamp.WithLabelValues(dataset).SetToCurrentTime()
}
