package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"sparkify/internal/scan"
	"sparkify/internal/warehouse"
)

type fakeLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func staticScan(files ...string) func(string) ([]string, error) {
	return func(string) ([]string, error) { return files, nil }
}

func newTestRunner(gw warehouse.Gateway, out *bytes.Buffer, files ...string) *Runner {
	return &Runner{
		Gateway: gw,
		Out:     out,
		Logger:  &fakeLogger{},
		Clock:   clockwork.NewFakeClock(),
		Scan:    staticScan(files...),
	}
}

func TestRunner_CommitsOncePerFile(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := newTestRunner(gw, &out, "/d/a.json", "/d/b.json", "/d/c.json")

	var seen []string
	prog, err := r.Run(context.Background(), "/d", func(ctx context.Context, gw warehouse.Gateway, path string) error {
		seen = append(seen, path)
		return gw.Exec(ctx, warehouse.SongInsert, path)
	})
	require.NoError(t, err)

	require.Equal(t, Progress{Processed: 3, Total: 3}, prog)
	require.Equal(t, int64(3), gw.commits.Load())
	require.Zero(t, gw.rollbacks.Load())
	require.Equal(t, []string{"/d/a.json", "/d/b.json", "/d/c.json"}, seen)
	require.Equal(t, StateDone, r.State())
	require.Equal(t,
		"3 files found in /d\n1/3 files processed.\n2/3 files processed.\n3/3 files processed.\n",
		out.String())
}

func TestRunner_EmptyRoot(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := newTestRunner(gw, &out)

	prog, err := r.Run(context.Background(), "/empty", ProcessSongFile)
	require.NoError(t, err)
	require.Equal(t, Progress{}, prog)
	require.Equal(t, "0 files found in /empty\n", out.String())
	require.Zero(t, gw.commits.Load())
	require.Equal(t, StateDone, r.State())
}

func TestRunner_FailureStopsAndRollsBack(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := newTestRunner(gw, &out, "/d/1.json", "/d/2.json", "/d/3.json")
	logger := r.Logger.(*fakeLogger)

	boom := errors.New("boom")
	calls := 0
	prog, err := r.Run(context.Background(), "/d", func(ctx context.Context, gw warehouse.Gateway, path string) error {
		calls++
		if path == "/d/2.json" {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, err, boom)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "/d/2.json", fe.Path)
	require.Equal(t, 2, fe.Index)

	require.Equal(t, 2, calls, "remaining files are skipped")
	require.Equal(t, Progress{Processed: 1, Total: 3}, prog)
	require.Equal(t, int64(1), gw.commits.Load(), "earlier commits stay")
	require.Equal(t, int64(1), gw.rollbacks.Load())
	require.Equal(t, StateFailed, r.State())
	require.Equal(t, "3 files found in /d\n1/3 files processed.\n", out.String())
	require.True(t, logger.contains("index=2/3 path=/d/2.json failed"))
}

func TestRunner_CommitFailureIsFatal(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	gw := &fakeGateway{commitErr: errors.New("serialization failure")}
	r := newTestRunner(gw, &out, "/d/1.json", "/d/2.json")

	prog, err := r.Run(context.Background(), "/d", func(context.Context, warehouse.Gateway, string) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "commit")
	require.Zero(t, prog.Processed)
	require.Equal(t, int64(1), gw.rollbacks.Load())
	require.Equal(t, StateFailed, r.State())
}

func TestRunner_MissingRootIsSetupError(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := &Runner{Gateway: gw, Out: &out}

	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), ProcessSongFile)
	var se *SetupError
	require.True(t, errors.As(err, &se), "err=%v", err)
	require.ErrorIs(t, err, scan.ErrRootNotFound)
	require.Equal(t, StateFailed, r.State())
	require.Empty(t, out.String(), "nothing is announced for a root that cannot be scanned")
}

func TestRunner_RequiresGateway(t *testing.T) {
	t.Parallel()

	r := &Runner{Out: &bytes.Buffer{}}
	_, err := r.Run(context.Background(), "/d", ProcessSongFile)
	var se *SetupError
	require.True(t, errors.As(err, &se), "err=%v", err)
}

func TestRunAll_SongFailureSkipsLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	songs := filepath.Join(dir, "song_data")
	logs := filepath.Join(dir, "log_data")
	writeFile(t, songs, "A/bad.json", `not json`)
	writeFile(t, logs, "2018/11/e.json", playLine)

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := &Runner{Gateway: gw, Out: &out}

	rep, err := r.RunAll(context.Background(), songs, logs)
	var fe *FileError
	require.True(t, errors.As(err, &fe), "err=%v", err)
	require.Equal(t, PhaseSongs, fe.Phase)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))

	require.Equal(t, Progress{Total: 1}, rep.Songs)
	require.Equal(t, Progress{}, rep.Logs)
	require.Empty(t, gw.queries, "log phase never started")
	require.NotContains(t, out.String(), "log_data")
}

func TestRunAll_OrdersPhases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	songs := filepath.Join(dir, "song_data")
	logs := filepath.Join(dir, "log_data")
	writeFile(t, songs, "A/B/S1.json", songS1)
	writeFile(t, logs, "2018/11/e.json", playLine+"\n"+loginLine)

	var out bytes.Buffer
	gw := &fakeGateway{}
	r := &Runner{Gateway: gw, Out: &out, Clock: clockwork.NewFakeClock()}

	rep, err := r.RunAll(context.Background(), songs, logs)
	require.NoError(t, err)
	require.Equal(t, Report{Songs: Progress{1, 1}, Logs: Progress{1, 1}}, rep)
	require.Equal(t, []warehouse.Statement{
		warehouse.SongInsert, warehouse.ArtistInsert,
		warehouse.TimeInsert, warehouse.UserInsert, warehouse.SongplayInsert,
	}, gw.stmts())
	require.Equal(t, int64(2), gw.commits.Load())
	require.Equal(t, StateDone, r.State())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"1 files found in " + songs,
		"1/1 files processed.",
		"1 files found in " + logs,
		"1/1 files processed.",
	}, lines)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "processing", StateProcessing.String())
	require.Equal(t, "state(42)", State(42).String())
}
