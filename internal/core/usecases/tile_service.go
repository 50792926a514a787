package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/pkg/metrics"
)

const (
	// TileTemplate is the relative tile URL advertised in layer.json.
	TileTemplate = "{z}/{x}/{y}.terrain"
	// TileFormat is the only terrain format served.
	TileFormat = "quantized-mesh-1.0"

	maxZoom = 30
)

// TileService serves terrain tiles and the tileset description.
type TileService struct {
	store ports.TileStore
}

// NewTileService creates a new TileService.
func NewTileService(store ports.TileStore) *TileService {
	return &TileService{store: store}
}

// GetTile returns the gzip-compressed quantized-mesh tile at z/x/y (XYZ).
func (s *TileService) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	if z < 0 || z > maxZoom || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		metrics.TilesServed.WithLabelValues("out_of_range").Inc()
		return nil, fmt.Errorf("%w: %d/%d/%d out of range", domain.ErrTileNotFound, z, x, y)
	}

	data, err := s.store.GetTile(ctx, z, x, y)
	switch {
	case errors.Is(err, domain.ErrTileNotFound):
		metrics.TilesServed.WithLabelValues("not_found").Inc()
		return nil, err
	case err != nil:
		metrics.TilesServed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get tile %d/%d/%d: %w", z, x, y, err)
	}
	metrics.TilesServed.WithLabelValues("ok").Inc()
	return data, nil
}

// LayerJSON builds the layer.json document of the tileset: every metadata
// row, with the embedded "json" row merged in, numeric fields typed, and the
// tile template and format forced.
func (s *TileService) LayerJSON(ctx context.Context) (map[string]any, error) {
	meta, err := s.store.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("tileset metadata: %w", err)
	}

	out := make(map[string]any, len(meta.Raw)+4)
	for k, v := range meta.Raw {
		if k == "json" {
			continue
		}
		out[k] = v
	}
	if raw, ok := meta.Raw["json"]; ok && raw != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("decode json metadata: %w", err)
		}
		for k, v := range extra {
			out[k] = v
		}
	}

	delete(out, "schema")
	out["scheme"] = meta.Scheme
	out["minzoom"] = meta.MinZoom
	out["maxzoom"] = meta.MaxZoom
	if meta.Bounds != nil {
		out["bounds"] = meta.Bounds
	}
	if meta.Center != nil {
		out["center"] = meta.Center
	}
	out["tiles"] = []string{TileTemplate}
	out["format"] = TileFormat
	return out, nil
}

// Ping checks the underlying store.
func (s *TileService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
