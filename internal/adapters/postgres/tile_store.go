package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kalisio/k2/internal/core/domain"
)

// TileStore implements ports.TileStore and ports.TileWriter on the
// terrain_tiles / terrain_metadata tables. Rows are kept in TMS order, like
// the MBTiles files they are imported from.
type TileStore struct {
	db *DB
}

// NewTileStore creates a new TileStore.
func NewTileStore(db *DB) *TileStore {
	return &TileStore{db: db}
}

func tmsRow(z, y int) int { return (1 << z) - 1 - y }

// GetTile returns the tile at XYZ z/x/y.
func (s *TileStore) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT tile_data FROM terrain_tiles
		WHERE zoom_level = $1 AND tile_column = $2 AND tile_row = $3
	`, z, x, tmsRow(z, y)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tile: %w", err)
	}
	return data, nil
}

// Metadata reads terrain_metadata.
func (s *TileStore) Metadata(ctx context.Context) (*domain.TileMetadata, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT name, value FROM terrain_metadata`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	raw := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		raw[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.NewTileMetadata(raw), nil
}

// Ping checks the database.
func (s *TileStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// PutTiles upserts XYZ tiles using pgx.Batch.
func (s *TileStore) PutTiles(ctx context.Context, tiles []domain.Tile) error {
	batch := &pgx.Batch{}
	for _, t := range tiles {
		batch.Queue(`
			INSERT INTO terrain_tiles (zoom_level, tile_column, tile_row, tile_data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (zoom_level, tile_column, tile_row) DO UPDATE
			SET tile_data = EXCLUDED.tile_data, updated_at = now()
		`, t.Z, t.X, tmsRow(t.Z, t.Y), t.Data)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range tiles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// PutMetadata upserts metadata rows.
func (s *TileStore) PutMetadata(ctx context.Context, meta map[string]string) error {
	batch := &pgx.Batch{}
	for k, v := range meta {
		batch.Queue(`
			INSERT INTO terrain_metadata (name, value) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
		`, k, v)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range meta {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}
