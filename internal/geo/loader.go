package geo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/fetcher"
	"github.com/sells-group/antenna-proximity/internal/model"
)

// Shapefile attribute names identifying the antenna a contour belongs to.
const (
	countryField = "COUNTRY"
	indexField   = "ANTENNA"
)

// ContourFunc receives each contour read from a shapefile.
type ContourFunc func(id model.AntennaID, c *Contour) error

// Localizer makes a dataset source available on the local filesystem.
// *fetcher.Mux satisfies it.
type Localizer interface {
	Localize(ctx context.Context, src, dir string) (string, error)
}

// FetchShapefile resolves src to a local .shp path. src may name a zipped
// shapefile (remote or local) or a local .shp.
func FetchShapefile(ctx context.Context, l Localizer, src, tempDir string) (string, error) {
	if fetcher.Ext(src) == ".shp" && !fetcher.IsRemote(src) {
		return src, nil
	}

	zipPath, err := l.Localize(ctx, src, tempDir)
	if err != nil {
		return "", eris.Wrap(err, "geo: fetch contour shapefile")
	}

	extractDir := filepath.Join(tempDir, "contours")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "geo: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "geo: extract contour ZIP")
	}

	shpPath, err := fetcher.FindFile(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "geo: find .shp file")
	}
	return shpPath, nil
}

// ReadContours reads every polygon record of a contour shapefile and passes it
// to fn. Records without an antenna identity or usable geometry are skipped.
// Returns the number of contours delivered.
func ReadContours(shpPath string, fn ContourFunc) (int, error) {
	log := zap.L().With(zap.String("component", "geo.loader"))

	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrap(err, "geo: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	countryIdx := fieldIndex(reader, countryField)
	antennaIdx := fieldIndex(reader, indexField)
	if countryIdx < 0 || antennaIdx < 0 {
		return 0, eris.Errorf("geo: required shapefile fields (%s, %s) not found", countryField, indexField)
	}

	var loaded int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}

		country := model.ParseCountry(reader.Attribute(countryIdx))
		index, err := strconv.Atoi(strings.TrimSpace(reader.Attribute(antennaIdx)))
		if country == "" || err != nil {
			log.Debug("geo: skipping contour without antenna identity", zap.Int("record", n))
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			continue
		}
		c, err := NewContour(mp)
		if err != nil {
			log.Debug("geo: skipping unusable contour", zap.Int("record", n), zap.Error(err))
			continue
		}

		if err := fn(model.AntennaID{Country: country, Index: index}, c); err != nil {
			return loaded, err
		}
		loaded++
	}

	log.Info("contour shapefile read", zap.Int("records", loaded))
	return loaded, nil
}

// polygonToMultiPolygon converts a shapefile polygon to a multipolygon.
// Shapefile outer rings are clockwise and holes counter-clockwise; each hole
// is attached to the outer ring that precedes it.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon

	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("geo: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) < 0 || current == nil {
			// Clockwise ring (or an orphan hole): a new outer boundary.
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("geo: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea returns the shoelace area of a flat XY ring; negative for clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
