package geo

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/geolift/internal/model"
)

const earthRadiusKM = 6371.0088

// Point returns the region's centroid as an SRID 4326 point, or nil when the
// region has no coordinates.
func Point(r model.Region) *geom.Point {
	if !r.HasCoordinates() {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{*r.Longitude, *r.Latitude}).SetSRID(4326)
}

// DistanceKM returns the haversine distance between two lon/lat points.
func DistanceKM(a, b *geom.Point) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RegionDistanceKM returns the centroid distance between two regions. The
// second return value is false when either region lacks coordinates.
func RegionDistanceKM(a, b model.Region) (float64, bool) {
	pa, pb := Point(a), Point(b)
	if pa == nil || pb == nil {
		return 0, false
	}
	return DistanceKM(pa, pb), true
}

// WithinKM reports whether b's centroid lies within km of a's. Regions
// without coordinates are never within range.
func WithinKM(a, b model.Region, km float64) bool {
	if km <= 0 {
		return false
	}
	d, ok := RegionDistanceKM(a, b)
	return ok && d <= km
}
