// Command etl loads the song catalog and listen-event logs into the
// sparkify star schema.
//
//	etl -songs data/song_data -logs data/log_data -storage postgres -dsn "$SPARKIFY_DSN" -create-tables
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"sparkify/internal/config"
	"sparkify/internal/pipeline"
	"sparkify/internal/warehouse"

	// Register every warehouse backend; -storage picks one at runtime.
	_ "sparkify/internal/warehouse/all"
)

const usageLine = "usage: etl -songs DIR -logs DIR -storage postgres|sqlite|mssql -dsn DSN [-config FILE] [-create-tables]"

type runner interface {
	RunAll(ctx context.Context, songsRoot, logsRoot string) (pipeline.Report, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadEnv     func(path string) error
	lookupEnv   func(key string) (string, bool)
	readFile    func(path string) ([]byte, error)
	kinds       func() []string
	openGateway func(ctx context.Context, cfg warehouse.Config) (warehouse.Gateway, error)
	initMetrics func(ctx context.Context, job string, m config.Metrics) (func(), error)
	newRunner   func(gw warehouse.Gateway, out io.Writer, logger pipeline.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     config.LoadEnvFile,
		lookupEnv:   os.LookupEnv,
		readFile:    os.ReadFile,
		kinds:       warehouse.Kinds,
		openGateway: warehouse.Open,
		initMetrics: initMetrics,
		newRunner: func(gw warehouse.Gateway, out io.Writer, logger pipeline.Logger) runner {
			return pipeline.NewRunner(gw, out, logger)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 2 for usage and configuration
// errors, 1 for runtime failures, 0 on success.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		flagCfg     config.Config
		cfgPath     string
		envFile     string
		verbose     bool
		metricsTags string
	)
	fs.StringVar(&flagCfg.Songs, "songs", "", "song metadata root (default "+config.DefaultSongsRoot+")")
	fs.StringVar(&flagCfg.Logs, "logs", "", "event log root (default "+config.DefaultLogsRoot+")")
	fs.StringVar(&flagCfg.Storage.Kind, "storage", "", "warehouse backend: postgres|sqlite|mssql (default "+config.DefaultStorageKind+")")
	fs.StringVar(&flagCfg.Storage.DSN, "dsn", "", "warehouse DSN; $VARS are expanded (env "+config.EnvDSN+")")
	fs.StringVar(&flagCfg.Job, "job", "", "job name used to tag metrics (default "+config.DefaultJob+")")
	fs.BoolVar(&flagCfg.CreateTables, "create-tables", false, "create the star schema tables if missing")
	fs.StringVar(&flagCfg.Metrics.Backend, "metrics-backend", "", "metrics backend: none|datadog|pushgateway (env "+config.EnvMetricsBackend+")")
	fs.StringVar(&flagCfg.Metrics.PushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (env "+config.EnvPushgatewayURL+")")
	fs.StringVar(&metricsTags, "metrics-tags", "", "comma-separated Datadog tags (env "+config.EnvMetricsTags+")")
	fs.StringVar(&cfgPath, "config", "", "optional JSON config file")
	fs.StringVar(&envFile, "env-file", "", "env file to load (default "+config.DefaultEnvFile+" if present)")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, usageLine)
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n%s\n", strings.Join(fs.Args(), " "), usageLine)
		return 2
	}
	flagCfg.Metrics.Tags = config.ParseList(metricsTags)

	if err := deps.loadEnv(envFile); err != nil {
		fmt.Fprintf(stderr, "load env: %v\n", err)
		return 1
	}

	cfg := config.Merge(config.Default(), config.FromEnv(deps.lookupEnv))
	if strings.TrimSpace(cfgPath) != "" {
		raw, err := deps.readFile(cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 1
		}
		fileCfg, err := config.Parse(raw)
		if err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 1
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	cfg = config.Merge(cfg, flagCfg)

	issues := config.Validate(cfg, deps.kinds())
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	logger := newLogger(stderr, verbose)
	// Pipeline stage lines are debug detail; -v shows them.
	stageLog := slog.NewLogLogger(logger.Handler(), slog.LevelDebug)

	cleanup, err := deps.initMetrics(ctx, cfg.Job, cfg.Metrics)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger.Debug("opening warehouse", "storage", cfg.Storage.Kind)
	gw, err := deps.openGateway(ctx, warehouse.Config{Kind: cfg.Storage.Kind, DSN: cfg.ExpandedDSN()})
	if err != nil {
		fmt.Fprintf(stderr, "open warehouse: %v\n", &pipeline.SetupError{Op: "open " + cfg.Storage.Kind, Err: err})
		return 1
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("close warehouse", "error", err)
		}
	}()

	if cfg.CreateTables {
		if err := gw.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(stderr, "create tables: %v\n", err)
			return 1
		}
		logger.Info("star schema ready", "storage", cfg.Storage.Kind)
	}

	start := time.Now()
	rep, err := deps.newRunner(gw, stdout, stageLog).RunAll(ctx, cfg.Songs, cfg.Logs)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	logger.Info("load complete",
		"song_files", rep.Songs.Processed,
		"log_files", rep.Logs.Processed,
		"duration", time.Since(start).Truncate(time.Millisecond),
	)
	return 0
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
