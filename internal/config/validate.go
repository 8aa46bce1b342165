package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Severity grades an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path names the field in JSON form.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	return slices.ContainsFunc(issues, func(i Issue) bool { return i.Severity == SeverityError })
}

// Validate checks c against the registered warehouse kinds.
func Validate(c Config, kinds []string) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Songs) == "" {
		add(SeverityError, "songs", "song data root is required")
	}
	if strings.TrimSpace(c.Logs) == "" {
		add(SeverityError, "logs", "log data root is required")
	}
	if c.Songs != "" && c.Logs != "" && filepath.Clean(c.Songs) == filepath.Clean(c.Logs) {
		add(SeverityWarning, "logs", "song and log roots are the same directory %q", c.Songs)
	}

	switch {
	case c.Storage.Kind == "":
		add(SeverityError, "storage.kind", "storage kind is required")
	case !slices.Contains(kinds, c.Storage.Kind):
		sorted := slices.Clone(kinds)
		slices.Sort(sorted)
		add(SeverityError, "storage.kind", "unknown storage kind %q (want one of %s)", c.Storage.Kind, strings.Join(sorted, "|"))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "dsn is required (flag -dsn, config file or $%s)", EnvDSN)
	}

	backend := c.Metrics.Backend
	if backend != "" && !slices.Contains(MetricsBackends, backend) {
		add(SeverityError, "metrics.backend", "unknown metrics backend %q (want %s)", backend, strings.Join(MetricsBackends, "|"))
	}
	if backend == "pushgateway" && strings.TrimSpace(c.Metrics.PushgatewayURL) == "" {
		add(SeverityError, "metrics.pushgateway_url", "pushgateway url is required for the pushgateway backend")
	}
	if backend != "datadog" && len(c.Metrics.Tags) > 0 {
		add(SeverityWarning, "metrics.tags", "tags are only sent by the datadog backend")
	}
	return issues
}
