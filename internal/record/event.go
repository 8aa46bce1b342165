package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// PageNextSong is the page tag of a listen event that represents an actual play.
const PageNextSong = "NextSong"

// Event is one line of an event-log file.
type Event struct {
	Ts        int64
	Page      string
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
	Song      string
	Artist    string
	Length    float64
	SessionID int64
	Location  string
	UserAgent string
}

// IsPlay reports whether the event is a song play.
func (e Event) IsPlay() bool { return e.Page == PageNextSong }

// LineError ties a decode failure to its 1-based line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// looseString accepts a JSON string or number. Log exports are not consistent
// about userId and null is common on logged-out events.
type looseString struct {
	Value string
	Set   bool
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = looseString{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString{Value: v, Set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("want string or number, got %s", b)
	}
	*s = looseString{Value: n.String(), Set: true}
	return nil
}

type eventJSON struct {
	Ts        *int64      `json:"ts"`
	Page      *string     `json:"page"`
	UserID    looseString `json:"userId"`
	FirstName *string     `json:"firstName"`
	LastName  *string     `json:"lastName"`
	Gender    *string     `json:"gender"`
	Level     *string     `json:"level"`
	Song      *string     `json:"song"`
	Artist    *string     `json:"artist"`
	Length    *float64    `json:"length"`
	SessionID *int64      `json:"sessionId"`
	Location  *string     `json:"location"`
	UserAgent *string     `json:"userAgent"`
}

// maxLineBytes bounds a single log line.
const maxLineBytes = 16 << 20

// DecodeEvents reads newline-delimited JSON objects from r.
//
// page is required on every line. Fields needed downstream of the NextSong
// filter (ts, userId, level, song, artist, length, sessionId) are required
// only on NextSong lines. Blank lines are skipped.
func DecodeEvents(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []Event
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		ev, err := decodeEvent(b)
		if err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("events: read: %w", err)
	}
	return out, nil
}

func decodeEvent(b []byte) (Event, error) {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return Event{}, fmt.Errorf("decode: %w", err)
	}
	if raw.Page == nil {
		return Event{}, &MissingFieldError{Field: "page"}
	}

	ev := Event{
		Page:      *raw.Page,
		UserID:    raw.UserID.Value,
		FirstName: deref(raw.FirstName),
		LastName:  deref(raw.LastName),
		Gender:    deref(raw.Gender),
		Level:     deref(raw.Level),
		Song:      deref(raw.Song),
		Artist:    deref(raw.Artist),
		Location:  deref(raw.Location),
		UserAgent: deref(raw.UserAgent),
	}
	if raw.Ts != nil {
		ev.Ts = *raw.Ts
	}
	if raw.Length != nil {
		ev.Length = *raw.Length
	}
	if raw.SessionID != nil {
		ev.SessionID = *raw.SessionID
	}

	if !ev.IsPlay() {
		return ev, nil
	}

	required := []struct {
		name    string
		present bool
	}{
		{"ts", raw.Ts != nil},
		{"userId", raw.UserID.Set && raw.UserID.Value != ""},
		{"level", raw.Level != nil},
		{"song", raw.Song != nil},
		{"artist", raw.Artist != nil},
		{"length", raw.Length != nil},
		{"sessionId", raw.SessionID != nil},
	}
	for _, f := range required {
		if !f.present {
			return Event{}, &MissingFieldError{Field: f.name}
		}
	}
	return ev, nil
}

// FilterPlays returns the NextSong events of in, preserving order.
func FilterPlays(in []Event) []Event {
	out := make([]Event, 0, len(in))
	for _, e := range in {
		if e.IsPlay() {
			out = append(out, e)
		}
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
