package pipeline

import (
	"context"
	"fmt"
	"os"

	"sparkify/internal/metrics"
	"sparkify/internal/record"
	"sparkify/internal/warehouse"
)

// ProcessSongFile loads one song-metadata file: a song row keyed by song_id
// and an artist row keyed by artist_id. Both inserts are idempotent on the
// warehouse side.
func ProcessSongFile(ctx context.Context, gw warehouse.Gateway, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	song, err := record.DecodeSong(f)
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}

	if err := gw.Exec(ctx, warehouse.SongInsert, song.SongArgs()...); err != nil {
		return err
	}
	metrics.RecordRows(warehouse.TableSongs, 1)

	if err := gw.Exec(ctx, warehouse.ArtistInsert, song.ArtistArgs()...); err != nil {
		return err
	}
	metrics.RecordRows(warehouse.TableArtists, 1)
	return nil
}
