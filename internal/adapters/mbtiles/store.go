// Package mbtiles reads and writes terrain tiles stored in MBTiles (SQLite)
// files.
package mbtiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kalisio/k2/internal/core/domain"
)

type tileRow struct {
	ZoomLevel  int    `gorm:"column:zoom_level"`
	TileColumn int    `gorm:"column:tile_column"`
	TileRow    int    `gorm:"column:tile_row"`
	TileData   []byte `gorm:"column:tile_data"`
}

func (tileRow) TableName() string { return "tiles" }

type metadataRow struct {
	Name  string `gorm:"column:name"`
	Value string `gorm:"column:value"`
}

func (metadataRow) TableName() string { return "metadata" }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`,
	`CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS metadata_index ON metadata (name)`,
}

// Store implements ports.TileStore (and ports.TileWriter when opened with
// Create) on an MBTiles file.
type Store struct {
	db   *gorm.DB
	path string
}

// Open opens an existing MBTiles file read-only.
func Open(path string) (*Store, error) {
	return open(path, "file:"+path+"?mode=ro")
}

// Create opens path for writing, creating the file and schema if needed.
func Create(path string) (*Store, error) {
	s, err := open(path, path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if err := s.db.Exec(stmt).Error; err != nil {
			s.Close()
			return nil, fmt.Errorf("mbtiles schema: %w", err)
		}
	}
	return s, nil
}

func open(path, dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// flipY converts between XYZ and TMS rows; the operation is its own inverse.
func flipY(z, y int) int {
	return (1 << z) - 1 - y
}

// GetTile returns the tile at XYZ z/x/y.
func (s *Store) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	var row tileRow
	err := s.db.WithContext(ctx).
		Select("tile_data").
		Where("zoom_level = ? AND tile_column = ? AND tile_row = ?", z, x, flipY(z, y)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mbtiles get tile: %w", err)
	}
	return row.TileData, nil
}

// Metadata reads the metadata table.
func (s *Store) Metadata(ctx context.Context) (*domain.TileMetadata, error) {
	var rows []metadataRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("mbtiles metadata: %w", err)
	}
	raw := make(map[string]string, len(rows))
	for _, r := range rows {
		raw[r.Name] = r.Value
	}
	return domain.NewTileMetadata(raw), nil
}

// Ping checks the file is readable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PutTiles upserts XYZ tiles.
func (s *Store) PutTiles(ctx context.Context, tiles []domain.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	rows := make([]tileRow, len(tiles))
	for i, t := range tiles {
		rows[i] = tileRow{ZoomLevel: t.Z, TileColumn: t.X, TileRow: flipY(t.Z, t.Y), TileData: t.Data}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "zoom_level"}, {Name: "tile_column"}, {Name: "tile_row"}},
		DoUpdates: clause.AssignmentColumns([]string{"tile_data"}),
	}).Create(&rows).Error
}

// PutMetadata upserts metadata rows.
func (s *Store) PutMetadata(ctx context.Context, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	rows := make([]metadataRow, 0, len(meta))
	for k, v := range meta {
		rows = append(rows, metadataRow{Name: k, Value: v})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
}

// EachBatch walks every tile in batches of n, in XYZ coordinates.
func (s *Store) EachBatch(ctx context.Context, n int, fn func([]domain.Tile) error) error {
	if n <= 0 {
		n = 500
	}
	for offset := 0; ; offset += n {
		var rows []tileRow
		err := s.db.WithContext(ctx).
			Order("zoom_level, tile_column, tile_row").
			Limit(n).Offset(offset).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("mbtiles scan: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		tiles := make([]domain.Tile, len(rows))
		for i, r := range rows {
			tiles[i] = domain.Tile{Z: r.ZoomLevel, X: r.TileColumn, Y: flipY(r.ZoomLevel, r.TileRow), Data: r.TileData}
		}
		if err := fn(tiles); err != nil {
			return err
		}
		if len(rows) < n {
			return nil
		}
	}
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
