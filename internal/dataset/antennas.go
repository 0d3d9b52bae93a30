// Package dataset turns antenna lists and observer tracks from CSV, XLSX or
// JSON sources into model values.
package dataset

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/fetcher"
	"github.com/sells-group/antenna-proximity/internal/model"
)

// Column aliases accepted in antenna datasets. Spanish names match the
// regulator exports the lists originate from.
var (
	colCountry     = []string{"country", "pais"}
	colIndex       = []string{"index", "indice", "id", "antenna"}
	colDescription = []string{"description", "descripcion", "name", "nombre", "callsign"}
	colChannels    = []string{"channels", "canales", "channel", "canal"}
	colPower       = []string{"power_kw", "potencia_kw", "power", "potencia", "erp_kw"}
	colLat         = []string{"lat", "latitude", "latitud"}
	colLon         = []string{"lon", "lng", "longitude", "longitud"}
)

// Opener resolves dataset sources. *fetcher.Mux satisfies it.
type Opener interface {
	Open(ctx context.Context, src string) (io.ReadCloser, error)
	Localize(ctx context.Context, src, dir string) (string, error)
}

// AntennaOptions controls how antenna rows are interpreted.
type AntennaOptions struct {
	// Country fills rows that carry no country column.
	Country model.Country
	// Sheet selects the XLSX sheet by name; the first sheet otherwise.
	Sheet string
	// TempDir receives downloads and archive contents.
	TempDir string
	// Strict fails on the first malformed row instead of skipping it.
	Strict bool
}

// ReadAntennas reads the antenna list named by src. The format follows the
// extension: .csv/.txt, .xlsx, .json, or a .zip holding exactly one of those.
func ReadAntennas(ctx context.Context, o Opener, src string, opts AntennaOptions) ([]model.Antenna, error) {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	switch ext := fetcher.Ext(src); ext {
	case ".csv", ".txt":
		rc, err := o.Open(ctx, src)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		rows, errs := fetcher.StreamCSV(ctx, rc, fetcher.CSVOptions{LazyQuotes: true})
		return collectAntennas(rows, errs, opts)

	case ".xlsx":
		path, err := o.Localize(ctx, src, opts.TempDir)
		if err != nil {
			return nil, err
		}
		rows, errs := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{SheetName: opts.Sheet})
		return collectAntennas(rows, errs, opts)

	case ".json":
		rc, err := o.Open(ctx, src)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		return decodeJSONAntennas(ctx, rc, opts)

	case ".zip":
		archive, err := o.Localize(ctx, src, opts.TempDir)
		if err != nil {
			return nil, err
		}
		inner, err := fetcher.ExtractZIPSingle(archive, opts.TempDir)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: unpack %s", src)
		}
		return ReadAntennas(ctx, o, inner, opts)

	default:
		return nil, eris.Errorf("dataset: unsupported antenna format %q", ext)
	}
}

func collectAntennas(rows <-chan fetcher.Row, errs <-chan error, opts AntennaOptions) ([]model.Antenna, error) {
	log := zap.L().With(zap.String("component", "dataset"))

	var (
		out     []model.Antenna
		skipped int
		rowErr  error
	)
	for row := range rows {
		if rowErr != nil {
			continue
		}
		a, err := ParseAntennaRow(row, opts.Country)
		if err != nil {
			if opts.Strict {
				rowErr = err
				continue
			}
			skipped++
			log.Debug("dataset: skipping antenna row", zap.Int("line", row.Line), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "dataset: read antennas")
	}
	if rowErr != nil {
		return nil, rowErr
	}

	if skipped > 0 {
		log.Warn("dataset: skipped malformed antenna rows", zap.Int("skipped", skipped), zap.Int("read", len(out)))
	}
	return out, nil
}

// ParseAntennaRow converts one tabular record into an Antenna. Rows without
// a country column take def.
func ParseAntennaRow(row fetcher.Row, def model.Country) (model.Antenna, error) {
	country := model.ParseCountry(row.Get(colCountry...))
	if country == "" {
		country = def
	}
	if country == "" {
		return model.Antenna{}, eris.Errorf("dataset: line %d: missing country", row.Line)
	}

	index, err := strconv.Atoi(row.Get(colIndex...))
	if err != nil {
		return model.Antenna{}, eris.Wrapf(err, "dataset: line %d: index", row.Line)
	}

	lat, err := parseCoord(row.Get(colLat...))
	if err != nil {
		return model.Antenna{}, eris.Wrapf(err, "dataset: line %d: latitude", row.Line)
	}
	lon, err := parseCoord(row.Get(colLon...))
	if err != nil {
		return model.Antenna{}, eris.Wrapf(err, "dataset: line %d: longitude", row.Line)
	}
	pos := model.Position{Lat: lat, Lon: lon}
	if !pos.Valid() {
		return model.Antenna{}, eris.Errorf("dataset: line %d: position %s out of range", row.Line, pos)
	}

	var power float64
	if s := row.Get(colPower...); s != "" {
		if power, err = parseCoord(s); err != nil {
			return model.Antenna{}, eris.Wrapf(err, "dataset: line %d: power", row.Line)
		}
	}

	return model.Antenna{
		ID:          model.AntennaID{Country: country, Index: index},
		Description: row.Get(colDescription...),
		Channels:    splitChannels(row.Get(colChannels...)),
		PowerKW:     power,
		Position:    pos,
	}, nil
}

// parseCoord accepts a decimal comma, as found in Latin American exports.
func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, c := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ';' || r == ',' }) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

type antennaRecord struct {
	Country     string   `json:"country"`
	Index       int      `json:"index"`
	Description string   `json:"description"`
	Channels    []string `json:"channels"`
	PowerKW     float64  `json:"power_kw"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
}

func decodeJSONAntennas(ctx context.Context, r io.Reader, opts AntennaOptions) ([]model.Antenna, error) {
	records, errs := fetcher.DecodeJSONArray[antennaRecord](ctx, r)

	var (
		out    []model.Antenna
		badErr error
	)
	for rec := range records {
		country := model.ParseCountry(rec.Country)
		if country == "" {
			country = opts.Country
		}
		pos := model.Position{Lat: rec.Lat, Lon: rec.Lon}
		if country == "" || !pos.Valid() {
			if opts.Strict && badErr == nil {
				badErr = eris.Errorf("dataset: invalid antenna record %s-%d", country, rec.Index)
			}
			continue
		}
		out = append(out, model.Antenna{
			ID:          model.AntennaID{Country: country, Index: rec.Index},
			Description: rec.Description,
			Channels:    rec.Channels,
			PowerKW:     rec.PowerKW,
			Position:    pos,
		})
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "dataset: read antennas")
	}
	if badErr != nil {
		return nil, badErr
	}
	return out, nil
}
