// Package prompush implements a metrics.Backend that accumulates samples in
// a Prometheus registry and pushes it to a Pushgateway on Flush. It suits
// batch jobs that exit before any scraper could reach them.
package prompush

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sparkify/internal/metrics"
)

// Backend implements metrics.Backend for the Prometheus Pushgateway.
type Backend struct {
	registry *prometheus.Registry
	pusher   *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	commits   prometheus.Counter
}

// NewBackend builds a backend pushing to url under job.
func NewBackend(job, url string) (*Backend, error) {
	job = strings.TrimSpace(job)
	url = strings.TrimSpace(url)
	if job == "" {
		return nil, errors.New("prompush: job is required")
	}
	if url == "" {
		return nil, errors.New("prompush: pushgateway url is required")
	}

	b := &Backend{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Finished pipeline steps by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Wall time of pipeline steps.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows sent to the warehouse by table.",
		}, []string{"kind"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.LookupsTotal,
			Help: "Song lookups by result.",
		}, []string{"result"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Committed per-file transactions.",
		}),
	}
	b.registry.MustRegister(b.steps, b.durations, b.rows, b.lookups, b.commits)
	b.pusher = push.New(url, job).Gatherer(b.registry)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.rows.WithLabelValues(kind).Add(delta)
		}
	case metrics.LookupsTotal:
		if r := labels["result"]; r != "" {
			b.lookups.WithLabelValues(r).Add(delta)
		}
	case metrics.BatchesTotal:
		b.commits.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	return b.FlushContext(context.Background())
}

// FlushContext is Flush with a caller-supplied context.
func (b *Backend) FlushContext(ctx context.Context) error {
	return b.pusher.PushContext(ctx)
}

// Registry exposes the collectors for inspection.
func (b *Backend) Registry() *prometheus.Registry { return b.registry }

var _ metrics.Backend = (*Backend)(nil)
