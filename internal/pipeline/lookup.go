package pipeline

import (
	"context"
	"fmt"

	"sparkify/internal/metrics"
	"sparkify/internal/warehouse"
)

// LookupSong resolves a play to its song and artist keys by matching title
// and duration on songs and name on the joined artist. A miss returns
// (nil, nil, nil). With several matches the warehouse picks one.
func LookupSong(ctx context.Context, gw warehouse.Gateway, title string, duration float64, artist string) (songID, artistID *string, err error) {
	var s, a string
	found, err := gw.QueryOne(ctx, warehouse.SongSelect, []any{title, duration, artist}, &s, &a)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup song %q by %q: %w", title, artist, err)
	}
	metrics.RecordLookup(found)
	if !found {
		return nil, nil, nil
	}
	return &s, &a, nil
}
