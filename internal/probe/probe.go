// Package probe inspects song and event-log trees without a warehouse.
//
// It decodes every file the loader would read and reports what a load
// would do: records per kind, events per page, how many plays resolve
// against the song catalog found in the same run, and how unique the
// dimension keys are. Unlike a load, a bad file does not stop the probe;
// it is listed as an Issue and the walk continues.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"sparkify/internal/record"
	"sparkify/internal/scan"
)

// distinctCapPerColumn bounds the memory spent on distinct counting.
const distinctCapPerColumn = 100_000

// Columns tracked for uniqueness, in report order.
var uniquenessColumns = []string{"song_id", "artist_id", "user_id", "start_time", "session_id"}

// Options selects the trees to inspect. An empty root is skipped.
type Options struct {
	SongsRoot string
	LogsRoot  string

	// MaxIssues caps Report.Issues; further issues are only counted.
	// Zero means 100.
	MaxIssues int

	// Scan lists the files of a root. Defaults to scan.Files.
	Scan func(root string) ([]string, error)
}

// Issue is one file the loader would reject.
type Issue struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
	Err  string `json:"error"`
}

// Report is the outcome of Probe.
type Report struct {
	SongFiles int `json:"song_files"`
	LogFiles  int `json:"log_files"`

	Songs  int `json:"songs"`
	Events int `json:"events"`
	Plays  int `json:"plays"`

	// Pages counts events by page.
	Pages map[string]int `json:"pages"`

	// LookupHits counts plays whose (title, duration, artist) matches a
	// song decoded from SongsRoot.
	LookupHits   int `json:"lookup_hits"`
	LookupMisses int `json:"lookup_misses"`

	Uniqueness Uniqueness `json:"uniqueness"`

	Issues       []Issue `json:"issues"`
	IssueCount   int     `json:"issue_count"`
	BadSongFiles int     `json:"bad_song_files"`
	BadLogFiles  int     `json:"bad_log_files"`
}

// OK reports whether a load of the probed trees would succeed.
func (r Report) OK() bool { return r.IssueCount == 0 }

type catalogKey struct {
	title    string
	duration float64
	artist   string
}

// Probe walks opts.SongsRoot then opts.LogsRoot. It fails only when a root
// cannot be scanned or ctx is done.
func Probe(ctx context.Context, opts Options) (Report, error) {
	if opts.MaxIssues <= 0 {
		opts.MaxIssues = 100
	}
	list := opts.Scan
	if list == nil {
		list = scan.Files
	}

	rep := Report{Pages: map[string]int{}}
	u := newUniqueness(uniquenessColumns)
	catalog := map[catalogKey]struct{}{}

	addIssue := func(path string, err error) {
		rep.IssueCount++
		if len(rep.Issues) >= opts.MaxIssues {
			return
		}
		iss := Issue{Path: path, Err: err.Error()}
		var le *record.LineError
		if errors.As(err, &le) {
			iss.Line, iss.Err = le.Line, le.Err.Error()
		}
		rep.Issues = append(rep.Issues, iss)
	}

	if opts.SongsRoot != "" {
		files, err := list(opts.SongsRoot)
		if err != nil {
			return rep, fmt.Errorf("probe: songs: %w", err)
		}
		rep.SongFiles = len(files)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			s, err := decodeFile(path, record.DecodeSong)
			if err != nil {
				rep.BadSongFiles++
				addIssue(path, err)
				continue
			}
			rep.Songs++
			u.observe("song_id", s.SongID)
			u.observe("artist_id", s.ArtistID)
			catalog[catalogKey{s.Title, s.Duration, s.ArtistName}] = struct{}{}
		}
	}

	if opts.LogsRoot != "" {
		files, err := list(opts.LogsRoot)
		if err != nil {
			return rep, fmt.Errorf("probe: logs: %w", err)
		}
		rep.LogFiles = len(files)
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			events, err := decodeFile(path, record.DecodeEvents)
			if err != nil {
				rep.BadLogFiles++
				addIssue(path, err)
				continue
			}
			rep.Events += len(events)
			for _, e := range events {
				rep.Pages[e.Page]++
			}
			for _, e := range record.FilterPlays(events) {
				rep.Plays++
				u.observe("user_id", e.UserID)
				u.observe("start_time", strconv.FormatInt(e.Ts, 10))
				u.observe("session_id", strconv.FormatInt(e.SessionID, 10))
				if _, ok := catalog[catalogKey{e.Song, e.Length, e.Artist}]; ok {
					rep.LookupHits++
				} else {
					rep.LookupMisses++
				}
			}
		}
	}

	rep.Uniqueness = u.finish()
	return rep, nil
}

func decodeFile[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return decode(f)
}

// Uniqueness holds bounded distinct counts per dimension key.
//
// Rows counts the values seen for a column, so Rows-Distinct is the number
// of repeated inserts the load will issue for that key.
type Uniqueness struct {
	Columns []ColumnStats `json:"columns"`
}

// ColumnStats is the uniqueness of one column.
type ColumnStats struct {
	Column   string `json:"column"`
	Rows     int    `json:"rows"`
	Distinct int    `json:"distinct"`
	Capped   bool   `json:"capped"`
}

// Ratio is Distinct/Rows, or 0 without rows.
func (c ColumnStats) Ratio() float64 {
	if c.Rows == 0 {
		return 0
	}
	return float64(c.Distinct) / float64(c.Rows)
}

type uniqueness struct {
	order  []string
	rows   map[string]int
	sets   map[string]map[string]struct{}
	capped map[string]bool
}

func newUniqueness(columns []string) *uniqueness {
	u := &uniqueness{
		order:  append([]string(nil), columns...),
		rows:   make(map[string]int, len(columns)),
		sets:   make(map[string]map[string]struct{}, len(columns)),
		capped: make(map[string]bool, len(columns)),
	}
	for _, c := range columns {
		u.sets[c] = map[string]struct{}{}
	}
	return u
}

// observe counts v for col. Empty values are not counted.
func (u *uniqueness) observe(col, v string) {
	if v == "" {
		return
	}
	u.rows[col]++
	if u.capped[col] {
		return
	}
	u.sets[col][v] = struct{}{}
	if len(u.sets[col]) >= distinctCapPerColumn {
		u.capped[col] = true
		delete(u.sets, col)
	}
}

func (u *uniqueness) finish() Uniqueness {
	out := Uniqueness{Columns: make([]ColumnStats, 0, len(u.order))}
	for _, c := range u.order {
		st := ColumnStats{Column: c, Rows: u.rows[c], Capped: u.capped[c]}
		if st.Capped {
			st.Distinct = distinctCapPerColumn
		} else {
			st.Distinct = len(u.sets[c])
		}
		out.Columns = append(out.Columns, st)
	}
	return out
}

// FormatText renders r as the human-readable probe report.
func FormatText(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "song files:\t%d (%d bad)\n", r.SongFiles, r.BadSongFiles)
	fmt.Fprintf(&b, "log files:\t%d (%d bad)\n", r.LogFiles, r.BadLogFiles)
	fmt.Fprintf(&b, "songs:\t%d\n", r.Songs)
	fmt.Fprintf(&b, "events:\t%d\n", r.Events)
	fmt.Fprintf(&b, "plays:\t%d (lookup hits=%d misses=%d)\n", r.Plays, r.LookupHits, r.LookupMisses)

	if len(r.Pages) > 0 {
		pages := make([]string, 0, len(r.Pages))
		for p := range r.Pages {
			pages = append(pages, p)
		}
		sort.Strings(pages)
		b.WriteString("pages:\n")
		for _, p := range pages {
			fmt.Fprintf(&b, "  %-15s\t%d\n", p, r.Pages[p])
		}
	}

	b.WriteString("uniqueness report:\n")
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\tratio\tcapped\n", "col", "unique", "rows")
	for _, c := range r.Uniqueness.Columns {
		if c.Rows == 0 {
			continue
		}
		fmt.Fprintf(&b, "%-15s\t%-7d\t%-7d\t%.1f%%\t%t\n", c.Column, c.Distinct, c.Rows, c.Ratio()*100, c.Capped)
	}

	if r.IssueCount > 0 {
		fmt.Fprintf(&b, "issues:\t%d\n", r.IssueCount)
		for _, iss := range r.Issues {
			if iss.Line > 0 {
				fmt.Fprintf(&b, "  %s:%d: %s\n", iss.Path, iss.Line, iss.Err)
			} else {
				fmt.Fprintf(&b, "  %s: %s\n", iss.Path, iss.Err)
			}
		}
		if n := r.IssueCount - len(r.Issues); n > 0 {
			fmt.Fprintf(&b, "  ... %d more\n", n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
