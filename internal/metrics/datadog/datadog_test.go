package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"sparkify/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter, clock clockwork.Clock) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "load",
		FlushEvery: time.Minute,
		submitter:  fs,
		clock:      clock,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	return b
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_fallback", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "  ", dd: "\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestStepStatusKeyRoundTrip(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ step, status string }{
		{"song_file", "ok"},
		{"", "ok"},
		{"log_file", ""},
	} {
		step, status := splitStepStatusKey(stepStatusKey(tc.step, tc.status))
		if step != tc.step || status != tc.status {
			t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", step, status, tc.step, tc.status)
		}
	}
	if step, status := splitStepStatusKey("bare"); step != "bare" || status != "unknown" {
		t.Fatalf("splitStepStatusKey(bare)=(%q,%q)", step, status)
	}
}

func TestWithTags_DoesNotAliasBase(t *testing.T) {
	t.Parallel()

	base := []string{"env:test", "job:load"}
	got := withTags(base, "table:songs")
	if !reflect.DeepEqual(got, []string{"env:test", "job:load", "table:songs"}) {
		t.Fatalf("withTags()=%v", got)
	}
	got[0] = "env:mutated"
	if base[0] != "env:test" {
		t.Fatalf("withTags output aliases base")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.5, want: 0},
		{name: "single", s: []float64{7}, p: 0.99, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.5, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.9, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: fs,
		clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.Contains(t, b.baseTags, "job:sparkify")
	require.Contains(t, b.baseTags, "team:data")
	require.Equal(t, 60*time.Second, b.flushEvery)
}

func TestFlush_BuildsDomainSeries(t *testing.T) {
	fs := &fakeSubmitter{}
	clock := clockwork.NewFakeClockAt(time.Unix(1000, 0))
	b := newTestBackend(t, fs, clock)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "song_file", "status": "ok"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "song_file", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "songplays"})
	b.IncCounter(metrics.LookupsTotal, 2, metrics.Labels{"result": "miss"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())

	payload, ok := fs.last()
	require.True(t, ok)

	byName := map[string]datadogV2.MetricSeries{}
	for _, s := range payload.Series {
		byName[s.Metric] = s
		require.Equal(t, int64(1000), *s.Points[0].Timestamp)
	}
	for _, name := range []string{
		"sparkify.step.total",
		"sparkify.step.duration_seconds.p50",
		"sparkify.step.duration_seconds.samples",
		"sparkify.rows.total",
		"sparkify.lookups.total",
		"sparkify.commits.total",
	} {
		require.Contains(t, byName, name)
	}
	rows := byName["sparkify.rows.total"]
	require.Equal(t, 3.0, *rows.Points[0].Value)
	require.Equal(t, datadogV2.METRICINTAKETYPE_COUNT, *rows.Type)
	require.Contains(t, rows.Tags, "table:songplays")
	require.Contains(t, byName["sparkify.lookups.total"].Tags, "result:miss")
	require.Equal(t, datadogV2.METRICINTAKETYPE_GAUGE, *byName["sparkify.step.duration_seconds.p50"].Type)

	// Buffers are reset, so a second flush sends nothing.
	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
}

func TestFlush_ReturnsSubmitError(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b := newTestBackend(t, fs, clockwork.NewFakeClock())
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	require.Error(t, b.Flush())
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	clock := clockwork.NewFakeClock()
	b := newTestBackend(t, fs, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "flush loop never created its ticker")

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return fs.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	require.NoError(t, b.Close())
	require.Equal(t, 2, fs.count(), "Close must flush the tail")
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, clockwork.NewFakeClock())
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	const iters = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "time"})
				b.ObserveHistogram(metrics.StepDuration, 0.01, metrics.Labels{"step": "log_file", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, float64(workers*iters), b.rowCounts["time"])
	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
}

func TestIgnoredSamples(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, clockwork.NewFakeClock())
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.BatchesTotal, 0, nil)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.LookupsTotal, 1, nil)
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StepDuration, -1, metrics.Labels{"step": "x", "status": "ok"})
	b.ObserveHistogram("unknown_seconds", 1, nil)

	require.NoError(t, b.Flush())
	require.Equal(t, 0, fs.count())
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty", in: " env:prod , ,team:data,  ", want: []string{"env:prod", "team:data"}},
		{name: "single", in: "service:sparkify", want: []string{"service:sparkify"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
