package dataset

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/antenna-proximity/internal/fetcher"
	"github.com/sells-group/antenna-proximity/internal/model"
)

var (
	colOffset    = []string{"t", "offset_s", "seconds", "segundos"}
	colTimestamp = []string{"time", "timestamp", "fecha"}
)

// Fix is one observer position of a recorded track.
type Fix struct {
	// At is the offset from the first fix.
	At       time.Duration
	Position model.Position
}

// Track is an ordered sequence of observer fixes.
type Track struct {
	Fixes []Fix
	// Timed is false when the source carried no time column; every At is zero.
	Timed bool
}

// ReadTrack reads an observer track from a CSV source with lat/lon columns
// and an optional time column: seconds from start (t, offset_s) or RFC 3339
// timestamps (time, timestamp).
func ReadTrack(ctx context.Context, o Opener, src string) (Track, error) {
	rc, err := o.Open(ctx, src)
	if err != nil {
		return Track{}, err
	}
	defer rc.Close() //nolint:errcheck

	rows, errs := fetcher.StreamCSV(ctx, rc, fetcher.CSVOptions{Comment: '#'})

	var (
		track  Track
		start  time.Time
		rowErr error
	)
	for row := range rows {
		if rowErr != nil {
			continue
		}
		fix, timed, err := parseFix(row, &start)
		if err != nil {
			rowErr = err
			continue
		}
		if len(track.Fixes) == 0 {
			track.Timed = timed
		}
		if len(track.Fixes) > 0 && fix.At < track.Fixes[len(track.Fixes)-1].At {
			rowErr = eris.Errorf("dataset: line %d: track time goes backwards", row.Line)
			continue
		}
		track.Fixes = append(track.Fixes, fix)
	}
	if err := <-errs; err != nil {
		return Track{}, eris.Wrap(err, "dataset: read track")
	}
	if rowErr != nil {
		return Track{}, rowErr
	}
	if len(track.Fixes) == 0 {
		return Track{}, eris.Errorf("dataset: track %s has no fixes", src)
	}
	return track, nil
}

func parseFix(row fetcher.Row, start *time.Time) (Fix, bool, error) {
	lat, err := parseCoord(row.Get(colLat...))
	if err != nil {
		return Fix{}, false, eris.Wrapf(err, "dataset: line %d: latitude", row.Line)
	}
	lon, err := parseCoord(row.Get(colLon...))
	if err != nil {
		return Fix{}, false, eris.Wrapf(err, "dataset: line %d: longitude", row.Line)
	}
	fix := Fix{Position: model.Position{Lat: lat, Lon: lon}}
	if !fix.Position.Valid() {
		return Fix{}, false, eris.Errorf("dataset: line %d: position %s out of range", row.Line, fix.Position)
	}

	if s := row.Get(colOffset...); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Fix{}, false, eris.Wrapf(err, "dataset: line %d: offset", row.Line)
		}
		fix.At = time.Duration(secs * float64(time.Second))
		return fix, true, nil
	}

	if s := row.Get(colTimestamp...); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Fix{}, false, eris.Wrapf(err, "dataset: line %d: timestamp", row.Line)
		}
		if start.IsZero() {
			*start = ts
		}
		fix.At = ts.Sub(*start)
		return fix, true, nil
	}

	return fix, false, nil
}
