package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"dwh/internal/metrics"
)

func TestNewBackend(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("dwh", "")
	require.Error(t, err)

	b, err := NewBackend("", "http://pushgateway:9091")
	require.NoError(t, err)
	require.Equal(t, "dwh", b.jobName)

	b, err = NewBackend("nightly", "http://pushgateway:9091")
	require.NoError(t, err)
	require.Equal(t, "nightly", b.jobName)
}

func TestIncCounterRoutesByName(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("dwh", "http://pushgateway:9091")
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "insert_users", "status": "success"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "insert_users", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": metrics.KindLoaded})
	b.IncCounter(metrics.BatchesTotal, 2, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.IncCounter("unknown_total", 9, nil)

	require.Equal(t, 3.0, testutil.ToFloat64(b.stepCounter.WithLabelValues("insert_users", "success")))
	require.Equal(t, 5.0, testutil.ToFloat64(b.recordCounter.WithLabelValues(metrics.KindLoaded)))
	require.Equal(t, 2.0, testutil.ToFloat64(b.batchCounter))
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("dwh", "http://pushgateway:9091")
	require.NoError(t, err)

	b.ObserveHistogram(metrics.StepDuration, 0.5, metrics.Labels{"step": "copy_staging_events", "status": "success"})
	b.ObserveHistogram(metrics.StepDuration, 1.5, metrics.Labels{"step": "copy_staging_events", "status": "failure"})
	b.ObserveHistogram("other_seconds", 1, nil)

	require.Equal(t, 2, testutil.CollectAndCount(b.stepDuration))
}

func TestFlushPushesRegistry(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("dwh", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, "/metrics/job/dwh", path)
	require.NotEmpty(t, body)
}

func TestFlushReportsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("dwh", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	err = b.Flush()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "prompush: push to"))
}
