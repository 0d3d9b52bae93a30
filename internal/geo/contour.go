package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// Contour is a broadcast coverage area stored as a WGS84 multipolygon
// (x = longitude, y = latitude).
type Contour struct {
	shape *geom.MultiPolygon

	minLon, minLat, maxLon, maxLat float64
}

// NewContour wraps a polygon or multipolygon geometry.
func NewContour(g geom.T) (*Contour, error) {
	var mp *geom.MultiPolygon
	switch s := g.(type) {
	case *geom.MultiPolygon:
		mp = s
	case *geom.Polygon:
		mp = geom.NewMultiPolygon(s.Layout()).SetSRID(s.SRID())
		if err := mp.Push(s); err != nil {
			return nil, eris.Wrap(err, "geo: polygon to multipolygon")
		}
	case nil:
		return nil, eris.New("geo: nil contour geometry")
	default:
		return nil, eris.Errorf("geo: unsupported contour geometry %T", g)
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.New("geo: empty contour")
	}

	b := mp.Bounds()
	return &Contour{
		shape:  mp,
		minLon: b.Min(0),
		minLat: b.Min(1),
		maxLon: b.Max(0),
		maxLat: b.Max(1),
	}, nil
}

// DecodeContour parses an EWKB encoded contour.
func DecodeContour(data []byte) (*Contour, error) {
	if len(data) == 0 {
		return nil, eris.New("geo: empty contour blob")
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geo: decode contour")
	}
	return NewContour(g)
}

// EWKB encodes the contour with SRID 4326 in little-endian byte order.
func (c *Contour) EWKB() ([]byte, error) {
	data, err := ewkb.Marshal(c.shape, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode contour")
	}
	return data, nil
}

// NumPolygons returns the number of polygons making up the contour.
func (c *Contour) NumPolygons() int {
	return c.shape.NumPolygons()
}

// Contains reports whether p lies inside the contour. Points inside a hole
// are outside; points on an outer ring are inside.
func (c *Contour) Contains(p model.Position) bool {
	if p.Lon < c.minLon || p.Lon > c.maxLon || p.Lat < c.minLat || p.Lat > c.maxLat {
		return false
	}

	layout := c.shape.Layout()
	pt := geom.Coord{p.Lon, p.Lat}
	for i := 0; i < c.shape.NumPolygons(); i++ {
		poly := c.shape.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(layout, pt, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(layout, pt, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}
