package domain

import (
	"strconv"
	"strings"
)

// Tile is one terrain tile addressed in XYZ.
type Tile struct {
	Z    int
	X    int
	Y    int
	Data []byte
}

// TileMetadata describes a terrain tileset, as stored in the name/value
// metadata table of an MBTiles file.
type TileMetadata struct {
	Name    string
	Format  string
	Scheme  string
	MinZoom int
	MaxZoom int
	Bounds  []float64
	Center  []float64
	// Raw holds every metadata row, including the ones parsed above.
	Raw map[string]string
}

// NewTileMetadata parses the well-known keys of raw metadata rows.
func NewTileMetadata(raw map[string]string) *TileMetadata {
	m := &TileMetadata{
		Name:    raw["name"],
		Format:  raw["format"],
		Scheme:  raw["scheme"],
		MinZoom: atoiOr(raw["minzoom"], 0),
		MaxZoom: atoiOr(raw["maxzoom"], 0),
		Bounds:  parseFloats(raw["bounds"]),
		Center:  parseFloats(raw["center"]),
		Raw:     raw,
	}
	if m.Scheme == "" {
		// some importers write the misspelled key
		m.Scheme = raw["schema"]
	}
	if m.Scheme == "" {
		m.Scheme = "tms"
	}
	return m
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func parseFloats(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}
