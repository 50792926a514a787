package domain

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Path is an ordered sequence of geographic coordinates.
type Path []GeoPoint

// Last returns the final vertex of the path.
func (p Path) Last() GeoPoint {
	if len(p) == 0 {
		return GeoPoint{}
	}
	return p[len(p)-1]
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}
