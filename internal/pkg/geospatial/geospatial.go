// Package geospatial wraps the geodesic helpers used to walk elevation paths.
package geospatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/kalisio/k2/internal/core/domain"
)

// ToOrb converts a domain point to an orb point (lon, lat).
func ToOrb(p domain.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb point (lon, lat) to a domain point.
func FromOrb(p orb.Point) domain.GeoPoint {
	return domain.GeoPoint{Lat: p.Lat(), Lon: p.Lon()}
}

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b domain.GeoPoint) float64 {
	return geo.DistanceHaversine(ToOrb(a), ToOrb(b))
}

// PathLength returns the length in meters of a path.
func PathLength(p domain.Path) float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += Distance(p[i-1], p[i])
	}
	return total
}

// Along returns the point reached after walking distance meters from a towards b.
// The distance is clamped to [0, length of a-b].
func Along(a, b domain.GeoPoint, distance float64) domain.GeoPoint {
	if distance <= 0 || a == b {
		return a
	}
	if distance >= Distance(a, b) {
		return b
	}
	start := ToOrb(a)
	bearing := geo.Bearing(start, ToOrb(b))
	return FromOrb(geo.PointAtBearingAndDistance(start, bearing, distance))
}

// TwoPointEquidistant returns the PROJ definition of a two-point equidistant
// projection whose control points are a and b.
func TwoPointEquidistant(a, b domain.GeoPoint) string {
	return fmt.Sprintf("+proj=tpeqd +lon_1=%v +lat_1=%v +lon_2=%v +lat_2=%v", a.Lon, a.Lat, b.Lon, b.Lat)
}
