package jobmetrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func rowsFn(rows int64, err error) PruneFunc {
	return func(context.Context) (int64, error) { return rows, err }
}

func TestPruneRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	ctx := context.Background()

	rows, err := m.Prune(ctx, "activity:prune", rowsFn(3, nil))
	require.NoError(t, err)
	require.EqualValues(t, 3, rows)

	boom := errors.New("boom")
	_, err = m.Prune(ctx, "activity:prune", rowsFn(0, boom))
	require.ErrorIs(t, err, boom)

	body := scrape(t, registry)
	require.Contains(t, body, `admin_jobs_total{job="activity:prune",status="success"} 1`)
	require.Contains(t, body, `admin_jobs_total{job="activity:prune",status="failure"} 1`)
	require.Contains(t, body, `admin_jobs_failures_total{job="activity:prune"} 1`)
	require.Contains(t, body, `admin_job_duration_seconds_count{job="activity:prune"} 2`)
	require.Contains(t, body, `admin_jobs_pruned_rows_total{job="activity:prune"} 3`)
}

func TestPruneWithoutMetrics(t *testing.T) {
	var m *Metrics
	rows, err := m.Prune(context.Background(), "auth:tokens:prune", rowsFn(2, nil))
	require.NoError(t, err)
	require.EqualValues(t, 2, rows)
}
