// Package metrics is the process-wide metrics facade. Pipeline code records
// through the helpers here; the CLI picks a Backend (Datadog, Pushgateway
// or none) with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	StepTotal        = "etl_step_total"
	StepDuration     = "etl_step_duration_seconds"
	RecordsTotal     = "etl_records_total"
	BatchesTotal     = "etl_batches_total"
	LookupsTotal     = "etl_lookups_total"
	StatusOK         = "ok"
	StatusError      = "error"
	LookupResultHit  = "hit"
	LookupResultMiss = "miss"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b disables metrics.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordStep counts one finished step (a file, a phase) and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows counts rows sent to a warehouse table.
func RecordRows(table string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": table})
}

// RecordCommit counts one committed transaction.
func RecordCommit() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordLookup counts a song lookup result.
func RecordLookup(hit bool) {
	result := LookupResultMiss
	if hit {
		result = LookupResultHit
	}
	current().IncCounter(LookupsTotal, 1, Labels{"result": result})
}
