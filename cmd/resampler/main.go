package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kalisio/k2/internal/adapters/gdal"
	natsadapter "github.com/kalisio/k2/internal/adapters/nats"
	"github.com/kalisio/k2/internal/pkg/config"
	"github.com/kalisio/k2/internal/pkg/logging"
	"github.com/kalisio/k2/internal/pkg/telemetry"
)

// resampler serves elevation.resample requests from the API with a local
// gdalwarp. Run as many as needed: they share the "resamplers" queue group.
func main() {
	cfg, err := config.Load("k2-resampler")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	nc, err := natsadapter.Connect(cfg.NATS.URL, "k2-resampler")
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer nc.Drain()

	engine := gdal.New(cfg.Elevation.GDALWarpPath, cfg.Elevation.ScratchDir)
	responder := natsadapter.NewResponder(nc, engine, cfg.Elevation.MaxConcurrency, cfg.Elevation.JobTimeout, slog.Default())

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("shutdown signal received, finishing in-flight jobs", "signal", sig.String())
		cancel()
	}()

	slog.Info("resampler started",
		"subject", natsadapter.SubjectResample,
		"queue", natsadapter.QueueResamplers,
		"concurrency", cfg.Elevation.MaxConcurrency,
		"gdalwarp", cfg.Elevation.GDALWarpPath,
	)
	if err := responder.Serve(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
	slog.Info("resampler stopped")
}
