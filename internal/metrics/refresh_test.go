package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRefreshMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRefreshMetrics(reg)

	m.RecordPage("person", 120*time.Millisecond)
	m.RecordPage("person", 80*time.Millisecond)
	m.RecordRows("person", "insert", 1000)
	m.RecordRows("person", "merge", 12)
	m.RecordError("crash", "fetch")
	m.RecordSuccess("person")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesFetchedTotal.WithLabelValues("person")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.RowsWrittenTotal.WithLabelValues("person", "insert")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.RowsWrittenTotal.WithLabelValues("person", "merge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshErrorsTotal.WithLabelValues("crash", "fetch")))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccessTimestamp.WithLabelValues("person")), 0.0)
}

func TestRefreshMetrics_NilSafe(t *testing.T) {
	var m *RefreshMetrics
	m.RecordPage("person", time.Second)
	m.RecordRows("person", "insert", 1)
	m.RecordError("person", "store")
	m.RecordSuccess("person")
}
