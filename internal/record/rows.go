package record

import "time"

// StartTime converts an epoch-millisecond timestamp to a UTC time.
func StartTime(ts int64) time.Time {
	return time.UnixMilli(ts).UTC()
}

// TimeRow is one row of the time dimension.
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// NewTimeRow derives the time dimension row for ts.
//
// Week is the ISO-8601 week number. Weekday counts from Monday=0 to Sunday=6.
func NewTimeRow(ts int64) TimeRow {
	t := StartTime(ts)
	_, week := t.ISOWeek()
	return TimeRow{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// Args returns start_time, hour, day, week, month, year, weekday.
func (r TimeRow) Args() []any {
	return []any{r.StartTime, r.Hour, r.Day, r.Week, r.Month, r.Year, r.Weekday}
}

// UserRow is one row of the user dimension.
type UserRow struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// NewUserRow projects the user attributes of e.
func NewUserRow(e Event) UserRow {
	return UserRow{
		UserID:    e.UserID,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Gender:    e.Gender,
		Level:     e.Level,
	}
}

// Args returns user_id, first_name, last_name, gender, level.
func (r UserRow) Args() []any {
	return []any{r.UserID, r.FirstName, r.LastName, r.Gender, r.Level}
}

// SongplayRow is one row of the songplays fact table. SongID and ArtistID are
// nil when the play did not match the song catalog.
type SongplayRow struct {
	StartTime time.Time
	UserID    string
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

// NewSongplayRow builds the fact row for e with the resolved dimension keys.
func NewSongplayRow(e Event, songID, artistID *string) SongplayRow {
	return SongplayRow{
		StartTime: StartTime(e.Ts),
		UserID:    e.UserID,
		Level:     e.Level,
		SongID:    songID,
		ArtistID:  artistID,
		SessionID: e.SessionID,
		Location:  e.Location,
		UserAgent: e.UserAgent,
	}
}

// Args returns start_time, user_id, level, song_id, artist_id, session_id,
// location, user_agent.
func (r SongplayRow) Args() []any {
	return []any{
		r.StartTime,
		r.UserID,
		r.Level,
		nullableString(r.SongID),
		nullableString(r.ArtistID),
		r.SessionID,
		r.Location,
		r.UserAgent,
	}
}
