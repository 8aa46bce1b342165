// Package record defines the typed input documents (song metadata and
// listen events) and the warehouse rows derived from them.
//
// Decoding validates field presence up front so the transform code never
// deals with half-populated records. Optional JSON values (null or absent)
// become nil pointers, never sentinel values.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Song is one song-metadata document. Each song file holds exactly one.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64

	ArtistName      string
	ArtistLocation  string
	ArtistLatitude  *float64
	ArtistLongitude *float64
}

// MissingFieldError reports a required JSON field that was absent or null.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// ErrTrailingData is returned when a single-object file holds more than one value.
var ErrTrailingData = errors.New("unexpected data after first JSON object")

type songJSON struct {
	SongID          *string  `json:"song_id"`
	Title           *string  `json:"title"`
	ArtistID        *string  `json:"artist_id"`
	Year            *int     `json:"year"`
	Duration        *float64 `json:"duration"`
	ArtistName      *string  `json:"artist_name"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
}

// DecodeSong reads a single JSON object from r.
//
// Unknown fields (e.g. num_songs) are ignored. artist_location may be null
// and is then stored as "".
func DecodeSong(r io.Reader) (Song, error) {
	dec := json.NewDecoder(r)

	var raw songJSON
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return Song{}, fmt.Errorf("song: empty document")
		}
		return Song{}, fmt.Errorf("song: decode: %w", err)
	}
	if dec.More() {
		return Song{}, fmt.Errorf("song: %w", ErrTrailingData)
	}

	required := []struct {
		name    string
		present bool
	}{
		{"song_id", raw.SongID != nil},
		{"title", raw.Title != nil},
		{"artist_id", raw.ArtistID != nil},
		{"year", raw.Year != nil},
		{"duration", raw.Duration != nil},
		{"artist_name", raw.ArtistName != nil},
	}
	for _, f := range required {
		if !f.present {
			return Song{}, fmt.Errorf("song: %w", &MissingFieldError{Field: f.name})
		}
	}

	s := Song{
		SongID:          *raw.SongID,
		Title:           *raw.Title,
		ArtistID:        *raw.ArtistID,
		Year:            *raw.Year,
		Duration:        *raw.Duration,
		ArtistName:      *raw.ArtistName,
		ArtistLatitude:  raw.ArtistLatitude,
		ArtistLongitude: raw.ArtistLongitude,
	}
	if raw.ArtistLocation != nil {
		s.ArtistLocation = *raw.ArtistLocation
	}
	return s, nil
}

// SongArgs returns the positional arguments for the song insert:
// song_id, title, artist_id, year, duration.
func (s Song) SongArgs() []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration}
}

// ArtistArgs returns the positional arguments for the artist insert:
// artist_id, name, location, latitude, longitude.
func (s Song) ArtistArgs() []any {
	return []any{
		s.ArtistID,
		s.ArtistName,
		s.ArtistLocation,
		nullableFloat(s.ArtistLatitude),
		nullableFloat(s.ArtistLongitude),
	}
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
