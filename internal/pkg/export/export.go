// Package export renders elevation profiles for clients: a GeoJSON
// FeatureCollection of points or a KML line with absolute altitudes.
package export

import (
	"bytes"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	kml "github.com/twpayne/go-kml"

	"github.com/kalisio/k2/internal/core/domain"
)

// Property names carried by each exported point.
const (
	PropElevation = "z"
	PropDistance  = "distance"
)

// FeatureCollection returns one Point feature per profile sample, in order.
func FeatureCollection(p *domain.Profile) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if p == nil {
		return fc
	}
	for _, pt := range p.Points {
		f := geojson.NewFeature(orb.Point{pt.Location.Lon, pt.Location.Lat})
		f.Properties[PropElevation] = pt.Elevation
		f.Properties[PropDistance] = pt.Distance
		fc.Append(f)
	}
	return fc
}

// KML encodes the profile as a single placemark whose line follows the
// terrain at absolute altitude.
func KML(p *domain.Profile, name string) ([]byte, error) {
	coords := make([]kml.Coordinate, 0, len(p.Points))
	for _, pt := range p.Points {
		coords = append(coords, kml.Coordinate{Lon: pt.Location.Lon, Lat: pt.Location.Lat, Alt: pt.Elevation})
	}

	doc := kml.KML(
		kml.Document(
			kml.Name(name),
			kml.Placemark(
				kml.Name(name),
				kml.Description(fmt.Sprintf("%d points, %.0f m", len(p.Points), p.Length)),
				kml.LineString(
					kml.AltitudeMode(kml.AltitudeModeAbsolute),
					kml.Coordinates(coords...),
				),
			),
		),
	)

	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("write kml: %w", err)
	}
	return buf.Bytes(), nil
}
