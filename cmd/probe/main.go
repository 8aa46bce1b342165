// Command probe checks song and event-log trees before a load.
//
// It decodes every file the loader would read, without touching a
// warehouse, and prints what the load would see: file and record counts,
// events per page, how many plays resolve against the songs found under
// -songs, and how often each dimension key repeats. Files the loader would
// reject are listed with their path and line.
//
// Roots default to the same values as cmd/etl ($SPARKIFY_SONGS,
// $SPARKIFY_LOGS, then data/song_data and data/log_data).
//
// Exit codes: 0 when every file decodes, 1 when any file would fail the
// load (or a root cannot be scanned), 2 on usage errors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"sparkify/internal/config"
	"sparkify/internal/probe"
)

func main() {
	var (
		flagSongs     = flag.String("songs", "", "song metadata root (empty with -logs set: skip songs)")
		flagLogs      = flag.String("logs", "", "event log root (empty with -songs set: skip logs)")
		flagJSON      = flag.Bool("json", false, "print the report as JSON instead of text")
		flagPretty    = flag.Bool("pretty", true, "indent JSON output")
		flagMaxIssues = flag.Int("max-issues", 100, "maximum number of bad files listed")
	)
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(flag.Args(), " "))
		flag.Usage()
		os.Exit(2)
	}
	if *flagMaxIssues < 1 {
		fmt.Fprintln(os.Stderr, "-max-issues must be at least 1")
		os.Exit(2)
	}

	songs, logs := *flagSongs, *flagLogs
	if songs == "" && logs == "" {
		if err := config.LoadEnvFile(""); err != nil {
			fmt.Fprintf(os.Stderr, "load env: %v\n", err)
			os.Exit(1)
		}
		cfg := config.Merge(config.Default(), config.FromEnv(os.LookupEnv))
		songs, logs = cfg.Songs, cfg.Logs
	}

	rep, err := probe.Probe(context.Background(), probe.Options{
		SongsRoot: songs,
		LogsRoot:  logs,
		MaxIssues: *flagMaxIssues,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}

	if *flagJSON {
		enc := json.NewEncoder(os.Stdout)
		if *flagPretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Println(probe.FormatText(rep))
	}

	if !rep.OK() {
		fmt.Fprintf(os.Stderr, "%d file(s) would fail the load\n", rep.IssueCount)
		os.Exit(1)
	}
}
