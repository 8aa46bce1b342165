package prompush

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"sparkify/internal/metrics"
)

func family(t *testing.T, b *Backend, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not gathered", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestNewBackend_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("", "http://localhost:9091")
	require.Error(t, err)
	_, err = NewBackend("sparkify", " ")
	require.Error(t, err)
}

func TestBackend_Collects(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("sparkify", "http://127.0.0.1:1")
	require.NoError(t, err)

	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"kind": "songs"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "songs"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "hit"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "song_file", "status": "ok"})
	b.ObserveHistogram(metrics.StepDuration, 0.2, metrics.Labels{"step": "song_file", "status": "ok"})
	b.ObserveHistogram(metrics.StepDuration, -3, metrics.Labels{"step": "song_file", "status": "ok"})

	rows := family(t, b, metrics.RecordsTotal)
	require.Len(t, rows.GetMetric(), 1)
	require.Equal(t, "songs", labelValue(rows.GetMetric()[0], "kind"))
	require.Equal(t, 5.0, rows.GetMetric()[0].GetCounter().GetValue())

	commits := family(t, b, metrics.BatchesTotal)
	require.Equal(t, 1.0, commits.GetMetric()[0].GetCounter().GetValue())

	hist := family(t, b, metrics.StepDuration)
	require.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	b, err := NewBackend("sparkify", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, "/metrics/job/sparkify", path)
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	b, err := NewBackend("sparkify", srv.URL)
	require.NoError(t, err)
	require.Error(t, b.Flush())
}
