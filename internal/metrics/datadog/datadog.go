// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Samples are buffered in memory and submitted on Flush. A background loop
// flushes on a ticker so long loads produce a time series rather than one
// spike at exit; Close stops the loop and flushes a final time.
//
// Flush snapshots and resets the buffers under the mutex, then submits
// outside it. A failed submission drops that window.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/jonboulle/clockwork"

	"sparkify/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "sparkify".
	JobName string

	// Tags are extra Datadog tags (e.g. "env:prod", "team:data").
	Tags []string

	// FlushEvery is the submission interval. Defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams.
	clock     clockwork.Clock
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api   metricsSubmitter
	ctx   context.Context
	clock clockwork.Clock

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	mu sync.Mutex

	stepCounts      map[string]float64 // step\x00status -> count
	durationSamples map[string][]float64
	rowCounts       map[string]float64 // table -> rows
	lookupCounts    map[string]float64 // hit|miss -> count
	commitCount     float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from DD_API_KEY / DD_SITE via
// the client's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "sparkify"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	clock := opts.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		clock:      clock,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
	}
	b.reset()

	go b.loop()
	return b, nil
}

func (b *Backend) reset() {
	b.stepCounts = make(map[string]float64)
	b.durationSamples = make(map[string][]float64)
	b.rowCounts = make(map[string]float64)
	b.lookupCounts = make(map[string]float64)
	b.commitCount = 0
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.clock.NewTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.Chan():
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.stepCounts[stepStatusKey(labels["step"], labels["status"])] += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.rowCounts[kind] += delta
		}
	case metrics.BatchesTotal:
		b.commitCount += delta
	case metrics.LookupsTotal:
		if r := labels["result"]; r != "" {
			b.lookupCounts[r] += delta
		}
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := stepStatusKey(labels["step"], labels["status"])
	b.durationSamples[k] = append(b.durationSamples[k], value)
}

type snapshot struct {
	stepCounts      map[string]float64
	durationSamples map[string][]float64
	rowCounts       map[string]float64
	lookupCounts    map[string]float64
	commitCount     float64
}

func (s snapshot) isEmpty() bool {
	return len(s.stepCounts) == 0 &&
		len(s.durationSamples) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.lookupCounts) == 0 &&
		s.commitCount == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stepCounts:      b.stepCounts,
		durationSamples: b.durationSamples,
		rowCounts:       b.rowCounts,
		lookupCounts:    b.lookupCounts,
		commitCount:     b.commitCount,
	}
	b.reset()
	return s
}

// Flush submits buffered metrics and resets the buffers. It returns nil
// without a request when nothing was recorded.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.clock.Now().Unix())
	_, _, err := b.api.SubmitMetrics(b.ctx, datadogV2.MetricPayload{Series: series}, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries renders a snapshot as Datadog series at one timestamp.
// Series are ordered by metric then tags so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries

	for _, k := range sortedKeys(s.stepCounts) {
		step, status := splitStepStatusKey(k)
		series = append(series, countSeries("sparkify.step.total", s.stepCounts[k],
			withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for _, k := range sortedKeys(s.durationSamples) {
		step, status := splitStepStatusKey(k)
		series = appendPercentiles(series, "sparkify.step.duration_seconds", s.durationSamples[k],
			withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix)
	}
	for _, table := range sortedKeys(s.rowCounts) {
		series = append(series, countSeries("sparkify.rows.total", s.rowCounts[table],
			withTags(b.baseTags, "table:"+table), nowUnix))
	}
	for _, r := range sortedKeys(s.lookupCounts) {
		series = append(series, countSeries("sparkify.lookups.total", s.lookupCounts[r],
			withTags(b.baseTags, "result:"+r), nowUnix))
	}
	if s.commitCount != 0 {
		series = append(series, countSeries("sparkify.commits.total", s.commitCount, b.baseTags, nowUnix))
	}
	return series
}

// appendPercentiles adds p50/p90/p99/max/samples gauges for samples. The
// input is not modified.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	return append(series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return pointSeries(metric, datadogV2.METRICINTAKETYPE_COUNT, value, tags, nowUnix)
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return pointSeries(metric, datadogV2.METRICINTAKETYPE_GAUGE, value, tags, nowUnix)
}

func pointSeries(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	step, status, ok := strings.Cut(k, "\x00")
	if !ok {
		return k, "unknown"
	}
	return step, status
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
