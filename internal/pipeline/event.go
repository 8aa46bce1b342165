package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"sparkify/internal/metrics"
	"sparkify/internal/record"
	"sparkify/internal/warehouse"
)

// ProcessLogFile loads one event-log file.
//
// Only NextSong events are used. All time rows are inserted first, then all
// user rows (one upsert per event, no dedupe), then one songplay per event
// in file order with its song and artist resolved by LookupSong.
func ProcessLogFile(ctx context.Context, gw warehouse.Gateway, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	events, err := record.DecodeEvents(f)
	if err != nil {
		pe := &ParseError{Path: path, Err: err}
		var le *record.LineError
		if errors.As(err, &le) {
			pe.Line, pe.Err = le.Line, le.Err
		}
		return pe
	}
	plays := record.FilterPlays(events)

	for _, e := range plays {
		if err := gw.Exec(ctx, warehouse.TimeInsert, record.NewTimeRow(e.Ts).Args()...); err != nil {
			return err
		}
	}
	metrics.RecordRows(warehouse.TableTime, len(plays))

	for _, e := range plays {
		if err := gw.Exec(ctx, warehouse.UserInsert, record.NewUserRow(e).Args()...); err != nil {
			return err
		}
	}
	metrics.RecordRows(warehouse.TableUsers, len(plays))

	for _, e := range plays {
		songID, artistID, err := LookupSong(ctx, gw, e.Song, e.Length, e.Artist)
		if err != nil {
			return err
		}
		if err := gw.Exec(ctx, warehouse.SongplayInsert, record.NewSongplayRow(e, songID, artistID).Args()...); err != nil {
			return err
		}
	}
	metrics.RecordRows(warehouse.TableSongplays, len(plays))
	return nil
}
