// Package config resolves the settings of a load run.
//
// Values come from four layers, highest first: command-line flags, a JSON
// config file, the environment (optionally seeded from a .env file) and
// built-in defaults. A layer only overrides the fields it sets.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultJob            = "sparkify"
	DefaultSongsRoot      = "data/song_data"
	DefaultLogsRoot       = "data/log_data"
	DefaultStorageKind    = "postgres"
	DefaultMetricsBackend = "none"
	DefaultPushgatewayURL = "http://localhost:9091"
	DefaultEnvFile        = ".env"
)

// Environment variables read by FromEnv.
const (
	EnvSongs          = "SPARKIFY_SONGS"
	EnvLogs           = "SPARKIFY_LOGS"
	EnvStorage        = "SPARKIFY_STORAGE"
	EnvDSN            = "SPARKIFY_DSN"
	EnvMetricsBackend = "METRICS_BACKEND"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
	EnvMetricsTags    = "METRICS_TAGS"
)

// MetricsBackends lists the accepted values of Metrics.Backend.
var MetricsBackends = []string{"none", "datadog", "pushgateway"}

// Config is one load run.
type Config struct {
	Job          string  `json:"job"`
	Songs        string  `json:"songs"`
	Logs         string  `json:"logs"`
	Storage      Storage `json:"storage"`
	Metrics      Metrics `json:"metrics"`
	CreateTables bool    `json:"create_tables"`
}

// Storage selects the warehouse backend.
type Storage struct {
	// Kind is a registered warehouse kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind"`

	// DSN may reference environment variables as $VAR or ${VAR}; they are
	// expanded by ExpandedDSN.
	DSN string `json:"dsn"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	Tags           []string `json:"tags"`
}

// Default returns the built-in defaults. Storage.DSN has no default.
func Default() Config {
	return Config{
		Job:   DefaultJob,
		Songs: DefaultSongsRoot,
		Logs:  DefaultLogsRoot,
		Storage: Storage{
			Kind: DefaultStorageKind,
		},
		Metrics: Metrics{
			Backend:        DefaultMetricsBackend,
			PushgatewayURL: DefaultPushgatewayURL,
		},
	}
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. An empty path means DefaultEnvFile, which
// may be absent; an explicit path must exist.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// FromEnv returns the layer described by the environment. Unset and blank
// variables leave their field zero.
func FromEnv(lookup func(string) (string, bool)) Config {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}
	return Config{
		Songs: get(EnvSongs),
		Logs:  get(EnvLogs),
		Storage: Storage{
			Kind: strings.ToLower(get(EnvStorage)),
			DSN:  get(EnvDSN),
		},
		Metrics: Metrics{
			Backend:        strings.ToLower(get(EnvMetricsBackend)),
			PushgatewayURL: get(EnvPushgatewayURL),
			Tags:           ParseList(get(EnvMetricsTags)),
		},
	}
}

// Parse decodes a JSON config file. Unknown fields are rejected so typos
// fail loudly instead of silently falling back to a default.
func Parse(raw []byte) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return c, nil
}

// ReadFile reads and parses the JSON config file at path.
func ReadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Merge returns base with every non-zero field of over applied on top.
// CreateTables is sticky: once a layer enables it, it stays enabled.
func Merge(base, over Config) Config {
	out := base
	setString(&out.Job, over.Job)
	setString(&out.Songs, over.Songs)
	setString(&out.Logs, over.Logs)
	setString(&out.Storage.Kind, over.Storage.Kind)
	setString(&out.Storage.DSN, over.Storage.DSN)
	setString(&out.Metrics.Backend, over.Metrics.Backend)
	setString(&out.Metrics.PushgatewayURL, over.Metrics.PushgatewayURL)
	if len(over.Metrics.Tags) > 0 {
		out.Metrics.Tags = slices.Clone(over.Metrics.Tags)
	}
	out.CreateTables = base.CreateTables || over.CreateTables
	return out
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// ExpandedDSN returns Storage.DSN with environment references expanded.
func (c Config) ExpandedDSN() string {
	return os.ExpandEnv(c.Storage.DSN)
}

// ParseList splits a comma-separated list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
