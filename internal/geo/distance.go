package geo

import (
	"math"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// earthRadiusM is the mean Earth radius used for great-circle math.
const earthRadiusM = 6371009.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between two positions in meters.
func Distance(a, b model.Position) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial bearing from a to b in degrees, normalized to [0, 360).
func Bearing(a, b model.Position) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
}

// BoundingBox returns the latitude/longitude box that encloses every point
// within radius meters of center. Longitude spans are clamped near the poles.
func BoundingBox(center model.Position, radius float64) (minLat, minLon, maxLat, maxLon float64) {
	dLat := toDegrees(radius / earthRadiusM)
	minLat = math.Max(-90, center.Lat-dLat)
	maxLat = math.Min(90, center.Lat+dLat)

	cosLat := math.Cos(toRadians(center.Lat))
	if cosLat < 1e-6 || maxLat >= 90 || minLat <= -90 {
		return minLat, -180, maxLat, 180
	}
	dLon := toDegrees(radius / (earthRadiusM * cosLat))
	if dLon >= 180 {
		return minLat, -180, maxLat, 180
	}
	return minLat, center.Lon - dLon, maxLat, center.Lon + dLon
}
