package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"

	"github.com/kalisio/k2/internal/adapters/gdal"
	"github.com/kalisio/k2/internal/adapters/http"
	"github.com/kalisio/k2/internal/adapters/mbtiles"
	natsadapter "github.com/kalisio/k2/internal/adapters/nats"
	"github.com/kalisio/k2/internal/adapters/postgres"
	temporaladapter "github.com/kalisio/k2/internal/adapters/temporal"
	"github.com/kalisio/k2/internal/adapters/valkey"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
	"github.com/kalisio/k2/internal/pkg/config"
	"github.com/kalisio/k2/internal/pkg/logging"
	"github.com/kalisio/k2/internal/pkg/telemetry"
	"github.com/kalisio/k2/internal/pkg/workpool"
)

func main() {
	cfg, err := config.Load("k2-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Terrain tiles
	var tileStore ports.TileStore
	switch cfg.Tiles.Backend {
	case "postgres":
		db, err := postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		tileStore = postgres.NewTileStore(db)
	default:
		store, err := mbtiles.Open(cfg.Tiles.MBTilesPath)
		if err != nil {
			log.Fatalf("mbtiles: %v", err)
		}
		defer store.Close()
		tileStore = store
	}

	// Cache
	var cache ports.CacheService
	valkeyCache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, profiles will not be cached", "error", err)
	} else {
		defer valkeyCache.Close()
		cache = valkeyCache
	}

	// NATS: progress events, websocket relay and the remote engine
	var events ports.EventPublisher
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = natsadapter.Connect(cfg.NATS.URL, "k2-api")
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer nc.Drain()
			if pub, err := natsadapter.NewPublisher(nc); err != nil {
				slog.Warn("nats publisher unavailable", "error", err)
			} else {
				events = pub
			}
		}
	}

	// Elevation engine
	var resampler ports.Resampler
	switch cfg.Elevation.Engine {
	case "nats":
		if nc == nil {
			log.Fatal("elevation.engine=nats requires a NATS connection")
		}
		resampler = natsadapter.NewRequester(nc, cfg.Elevation.JobTimeout)
	default:
		resampler = gdal.New(cfg.Elevation.GDALWarpPath, cfg.Elevation.ScratchDir)
	}

	policy, err := workpool.ParsePolicy(cfg.Elevation.FailurePolicy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	profiles := usecases.NewProfileService(resampler, cache, events, usecases.ProfileOptions{
		DEMDir:             cfg.Elevation.DEMDir,
		Datasets:           cfg.Elevation.Datasets,
		DefaultResolution:  cfg.Elevation.DefaultResolution,
		MinResolution:      cfg.Elevation.MinResolution,
		DefaultConcurrency: cfg.Elevation.DefaultConcurrency,
		MaxConcurrency:     cfg.Elevation.MaxConcurrency,
		JobTimeout:         cfg.Elevation.JobTimeout,
		Policy:             policy,
		ScratchDir:         cfg.Elevation.ScratchDir,
		CacheTTL:           cfg.Elevation.CacheTTL,
	})

	deps := &http.Dependencies{
		Profiles:       profiles,
		Tiles:          usecases.NewTileService(tileStore),
		NATS:           nc,
		Checks:         map[string]http.HealthCheck{},
		ProfileTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		SpecPath:       cfg.Server.OpenAPIPath,
	}

	if cache != nil {
		deps.Cache = valkeyCache
	}

	// Async jobs need Temporal and a shared results cache.
	if cfg.Temporal.HostPort != "" && cache != nil {
		tc, err := temporaladapter.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			slog.Warn("temporal unavailable, async jobs disabled", "error", err)
		} else {
			defer tc.Close()
			runner := temporaladapter.NewRunner(tc, cfg.Temporal.TaskQueue, cache, 0)
			deps.Jobs = runner
			deps.Checks["temporal"] = runner.Ping
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		AppName:      "k2",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "tiles", cfg.Tiles.Backend, "engine", cfg.Elevation.Engine)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Profiles can take a while; give them the write timeout to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
