// Package geojson validates incoming GeoJSON documents and extracts the path
// to profile from them.
package geojson

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/kalisio/k2/internal/core/domain"
)

// ValidationError is one problem found in a document.
type ValidationError struct {
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Message }

// allowedCRS are the only named CRS accepted, all WGS 84 lon/lat.
var allowedCRS = []string{
	"epsg:4326",
	"urn:ogc:def:crs:ogc:1.3:crs84",
	"urn:ogc:def:crs:epsg::4326",
}

type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// Validate checks raw as a GeoJSON object. A named CRS other than WGS 84 is
// rejected before anything else. An empty result means the document is valid.
func Validate(raw []byte) []ValidationError {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return []ValidationError{{Message: "invalid JSON: " + err.Error()}}
	}

	if c, ok := members["crs"]; ok && string(c) != "null" {
		var crs crsMember
		if err := json.Unmarshal(c, &crs); err != nil {
			return []ValidationError{{Message: "invalid crs member: " + err.Error()}}
		}
		if name := strings.ToLower(crs.Properties.Name); name != "" && !crsAllowed(name) {
			return []ValidationError{{Message: "Invalid CRS: " + name}}
		}
	}

	var typ string
	if t, ok := members["type"]; ok {
		_ = json.Unmarshal(t, &typ)
	}

	switch typ {
	case "":
		return []ValidationError{{Message: `"type" member required`}}
	case "FeatureCollection":
		var fc geom.GeoJSONFeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return []ValidationError{{Message: err.Error()}}
		}
		if len(fc) == 0 {
			return []ValidationError{{Message: "feature collection has no features"}}
		}
	case "Feature":
		var f geom.GeoJSONFeature
		if err := json.Unmarshal(raw, &f); err != nil {
			return []ValidationError{{Message: err.Error()}}
		}
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		if _, err := geom.UnmarshalGeoJSON(raw); err != nil {
			return []ValidationError{{Message: err.Error()}}
		}
	default:
		return []ValidationError{{Message: fmt.Sprintf("unknown GeoJSON type %q", typ)}}
	}
	return nil
}

func crsAllowed(name string) bool {
	for _, a := range allowedCRS {
		if a == name {
			return true
		}
	}
	return false
}

// ExtractPath returns the line to profile: a bare LineString, the geometry of
// a Feature, or the first line feature of a FeatureCollection. The first
// line of a MultiLineString is used.
func ExtractPath(raw []byte) (domain.Path, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := orbjson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
		}
		for _, f := range fc.Features {
			if p, ok := lineOf(f.Geometry); ok {
				return p, nil
			}
		}
		return nil, fmt.Errorf("%w: no line feature in collection", domain.ErrInvalidPath)
	case "Feature":
		f, err := orbjson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
		}
		if p, ok := lineOf(f.Geometry); ok {
			return p, nil
		}
	default:
		g, err := orbjson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
		}
		if p, ok := lineOf(g.Geometry()); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not a line", domain.ErrInvalidPath, head.Type)
}

func lineOf(g orb.Geometry) (domain.Path, bool) {
	switch l := g.(type) {
	case orb.LineString:
		return toPath(l), true
	case orb.MultiLineString:
		if len(l) > 0 {
			return toPath(l[0]), true
		}
	}
	return nil, false
}

func toPath(ls orb.LineString) domain.Path {
	p := make(domain.Path, len(ls))
	for i, pt := range ls {
		p[i] = domain.GeoPoint{Lon: pt.Lon(), Lat: pt.Lat()}
	}
	return p
}

// PathFromCoordinates builds a path from [lon, lat] pairs.
func PathFromCoordinates(coords [][]float64) (domain.Path, error) {
	p := make(domain.Path, 0, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: coordinate %d has %d values", domain.ErrInvalidPath, i, len(c))
		}
		p = append(p, domain.GeoPoint{Lon: c[0], Lat: c[1]})
	}
	return p, nil
}
