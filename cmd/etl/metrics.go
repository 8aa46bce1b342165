package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
)

// metricsBackend is a metrics.Backend that owns background work.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams replaced by tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the backend named by m.Backend. The returned cleanup
// is never nil and flushes the backend; flush errors are logged, not
// returned, so a metrics outage never fails a load.
func initMetrics(ctx context.Context, job string, m config.Metrics) (func(), error) {
	noop := func() {}

	switch m.Backend {
	case "", "none":
		return noop, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       m.Tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway":
		b, err := newPushBackend(job, m.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway push error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", m.Backend)
	}
}
