package ports

import (
	"context"

	"github.com/kalisio/k2/internal/core/domain"
)

// TileStore reads pre-rendered terrain tiles. Coordinates are XYZ; stores
// that keep TMS rows flip them internally.
type TileStore interface {
	// GetTile returns the raw (gzip-compressed) tile data or domain.ErrTileNotFound.
	GetTile(ctx context.Context, z, x, y int) ([]byte, error)
	Metadata(ctx context.Context) (*domain.TileMetadata, error)
	Ping(ctx context.Context) error
}

// TileWriter is implemented by stores that can be imported into.
type TileWriter interface {
	PutTiles(ctx context.Context, tiles []domain.Tile) error
	PutMetadata(ctx context.Context, meta map[string]string) error
}
