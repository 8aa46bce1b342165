// Package pipeline loads song metadata and listen-event logs into the star
// schema through a warehouse.Gateway.
//
// A run has two phases over two directory trees. The song phase fills the
// songs and artists dimensions; the log phase then fills time, users and
// songplays, resolving each play against the dimensions loaded before it.
// Every file is one transaction: committed when it loads cleanly, rolled
// back and fatal to the run when it does not.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"sparkify/internal/metrics"
	"sparkify/internal/scan"
	"sparkify/internal/warehouse"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ProcessFunc loads one file through gw without committing.
type ProcessFunc func(ctx context.Context, gw warehouse.Gateway, path string) error

// Phase is one pass of the runner over a directory tree.
type Phase struct {
	Name    string
	Root    string
	Process ProcessFunc
}

// Phase names used by RunAll.
const (
	PhaseSongs = "songs"
	PhaseLogs  = "logs"
)

// State is the runner's position in a phase.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateProcessing
	StateCommitted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateCommitted:
		return "committed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Progress counts committed files against files found.
type Progress struct {
	Processed int
	Total     int
}

// Report is the outcome of RunAll.
type Report struct {
	Songs Progress
	Logs  Progress
}

// Runner drives phases one file at a time on a single gateway.
type Runner struct {
	Gateway warehouse.Gateway

	// Out receives the progress lines. Defaults to os.Stdout.
	Out io.Writer

	Logger Logger

	// Clock times files and phases. Defaults to the real clock.
	Clock clockwork.Clock

	// Scan lists the files of a root. Defaults to scan.Files.
	Scan func(root string) ([]string, error)

	state State
}

// NewRunner returns a Runner writing progress to out.
func NewRunner(gw warehouse.Gateway, out io.Writer, logger Logger) *Runner {
	return &Runner{Gateway: gw, Out: out, Logger: logger}
}

// State reports where the last phase is or stopped.
func (r *Runner) State() State { return r.state }

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return os.Stdout
	}
	return r.Out
}

func (r *Runner) clock() clockwork.Clock {
	if r.Clock == nil {
		return clockwork.NewRealClock()
	}
	return r.Clock
}

func (r *Runner) scan(root string) ([]string, error) {
	if r.Scan != nil {
		return r.Scan(root)
	}
	return scan.Files(root)
}

// Run processes every file under root with fn.
func (r *Runner) Run(ctx context.Context, root string, fn ProcessFunc) (Progress, error) {
	return r.RunPhase(ctx, Phase{Name: "files", Root: root, Process: fn})
}

// RunPhase scans p.Root, prints "<n> files found in <root>", then for each
// file in order runs p.Process, commits, and prints "<i>/<n> files
// processed.". The first failure rolls back the open transaction, leaves
// earlier commits in place and stops the phase.
func (r *Runner) RunPhase(ctx context.Context, p Phase) (Progress, error) {
	logf := r.logger()
	clock := r.clock()
	var prog Progress

	if r.Gateway == nil || p.Process == nil {
		r.state = StateFailed
		return prog, &SetupError{Op: p.Name, Err: errors.New("gateway and process func are required")}
	}

	r.state = StateScanning
	files, err := r.scan(p.Root)
	if err != nil {
		r.state = StateFailed
		return prog, &SetupError{Op: "scan " + p.Name, Err: err}
	}
	prog.Total = len(files)
	fmt.Fprintf(r.out(), "%d files found in %s\n", prog.Total, p.Root)
	logf("stage=scan phase=%s root=%s files=%d", p.Name, p.Root, prog.Total)

	phaseStart := clock.Now()
	for i, path := range files {
		r.state = StateProcessing
		start := clock.Now()

		err := p.Process(ctx, r.Gateway, path)
		if err == nil {
			if err = r.Gateway.Commit(ctx); err != nil {
				err = fmt.Errorf("commit: %w", err)
			}
		}
		metrics.RecordStep(p.Name, err, clock.Since(start))

		if err != nil {
			if rbErr := r.Gateway.Rollback(ctx); rbErr != nil {
				logf("stage=rollback phase=%s path=%s err=%v", p.Name, path, rbErr)
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			r.state = StateFailed
			logf("stage=file phase=%s index=%d/%d path=%s failed err=%v", p.Name, i+1, prog.Total, path, err)
			return prog, &FileError{Phase: p.Name, Path: path, Index: i + 1, Err: err}
		}

		r.state = StateCommitted
		metrics.RecordCommit()
		prog.Processed++
		fmt.Fprintf(r.out(), "%d/%d files processed.\n", prog.Processed, prog.Total)
		logf("stage=file phase=%s index=%d/%d path=%s ok duration=%s", p.Name, i+1, prog.Total, path, durMS(clock.Since(start)))
	}

	r.state = StateDone
	logf("stage=phase phase=%s done files=%d duration=%s", p.Name, prog.Processed, durMS(clock.Since(phaseStart)))
	return prog, nil
}

// RunAll loads the song tree, then the log tree. The log phase resolves
// plays against the songs and artists dimensions, so it starts only after
// the song phase is Done; a failed song phase returns without touching the
// logs.
func (r *Runner) RunAll(ctx context.Context, songsRoot, logsRoot string) (Report, error) {
	var rep Report
	var err error

	rep.Songs, err = r.RunPhase(ctx, Phase{Name: PhaseSongs, Root: songsRoot, Process: ProcessSongFile})
	if err != nil {
		return rep, err
	}
	rep.Logs, err = r.RunPhase(ctx, Phase{Name: PhaseLogs, Root: logsRoot, Process: ProcessLogFile})
	return rep, err
}

func durMS(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }
