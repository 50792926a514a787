package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kalisio/k2/internal/adapters/mbtiles"
	"github.com/kalisio/k2/internal/adapters/postgres"
	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/pkg/config"
)

const importBatch = 500

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|import <file.mbtiles>>")
	}

	cfg, err := config.Load("k2-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		runMigrations(ctx, db)
	case "import":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate import <file.mbtiles>")
		}
		runMigrations(ctx, db)
		importTiles(ctx, db, os.Args[2])
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func runMigrations(ctx context.Context, db *postgres.DB) {
	err := db.Migrate(ctx, func(name string) {
		fmt.Printf("OK  %s\n", name)
	})
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("all migrations applied")
}

// importTiles copies a terrain MBTiles file into the terrain_tiles table.
func importTiles(ctx context.Context, db *postgres.DB, path string) {
	src, err := mbtiles.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer src.Close()

	dst := postgres.NewTileStore(db)

	meta, err := src.Metadata(ctx)
	if err != nil {
		log.Fatalf("metadata: %v", err)
	}
	if err := dst.PutMetadata(ctx, meta.Raw); err != nil {
		log.Fatalf("metadata: %v", err)
	}

	total := 0
	err = src.EachBatch(ctx, importBatch, func(tiles []domain.Tile) error {
		if err := dst.PutTiles(ctx, tiles); err != nil {
			return err
		}
		total += len(tiles)
		if total%(importBatch*20) == 0 {
			log.Printf("%d tiles imported", total)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	log.Printf("imported %d tiles from %s", total, path)
}
