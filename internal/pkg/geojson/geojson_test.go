package geojson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalisio/k2/internal/core/domain"
)

const lineFeature = `{
  "type": "Feature",
  "properties": {},
  "geometry": {"type": "LineString", "coordinates": [[1.44, 43.6], [1.46, 43.61]]}
}`

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"feature", lineFeature, true},
		{"bare line", `{"type":"LineString","coordinates":[[0,0],[1,1]]}`, true},
		{"collection", `{"type":"FeatureCollection","features":[` + lineFeature + `]}`, true},
		{"extra members", `{"type":"LineString","coordinates":[[0,0],[1,1]],"resolution":50}`, true},
		{"wgs84 crs", `{"type":"LineString","crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:OGC:1.3:CRS84"}},"coordinates":[[0,0],[1,1]]}`, true},
		{"epsg crs upper case", `{"type":"LineString","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"coordinates":[[0,0],[1,1]]}`, true},
		{"not json", `{"type":`, false},
		{"no type", `{"coordinates":[[0,0],[1,1]]}`, false},
		{"unknown type", `{"type":"Line","coordinates":[[0,0],[1,1]]}`, false},
		{"bad coordinates", `{"type":"LineString","coordinates":[[0],[1,1]]}`, false},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := Validate([]byte(tc.doc))
			if tc.valid {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}

func TestValidate_RejectsProjectedCRS(t *testing.T) {
	errs := Validate([]byte(`{"type":"LineString","crs":{"type":"name","properties":{"name":"EPSG:3857"}},"coordinates":[[0,0],[1,1]]}`))
	require.Len(t, errs, 1)
	assert.Equal(t, "Invalid CRS: epsg:3857", errs[0].Message)
}

func TestExtractPath(t *testing.T) {
	want := domain.Path{{Lon: 1.44, Lat: 43.6}, {Lon: 1.46, Lat: 43.61}}

	p, err := ExtractPath([]byte(lineFeature))
	require.NoError(t, err)
	assert.Equal(t, want, p)

	p, err = ExtractPath([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}},
		` + lineFeature + `]}`))
	require.NoError(t, err)
	assert.Equal(t, want, p)

	p, err = ExtractPath([]byte(`{"type":"MultiLineString","coordinates":[[[1.44,43.6],[1.46,43.61]],[[5,5],[6,6]]]}`))
	require.NoError(t, err)
	assert.Equal(t, want, p)

	p, err = ExtractPath([]byte(`{"type":"LineString","coordinates":[[1.44,43.6],[1.46,43.61]]}`))
	require.NoError(t, err)
	assert.Equal(t, want, p)
}

func TestExtractPath_NotALine(t *testing.T) {
	for _, doc := range []string{
		`{"type":"Point","coordinates":[0,0]}`,
		`{"type":"FeatureCollection","features":[]}`,
		`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}`,
		`not json`,
	} {
		_, err := ExtractPath([]byte(doc))
		assert.True(t, errors.Is(err, domain.ErrInvalidPath), "doc %s: %v", doc, err)
	}
}

func TestPathFromCoordinates(t *testing.T) {
	p, err := PathFromCoordinates([][]float64{{1, 2}, {3, 4, 100}})
	require.NoError(t, err)
	assert.Equal(t, domain.Path{{Lon: 1, Lat: 2}, {Lon: 3, Lat: 4}}, p)

	_, err = PathFromCoordinates([][]float64{{1}})
	assert.ErrorIs(t, err, domain.ErrInvalidPath)
}
