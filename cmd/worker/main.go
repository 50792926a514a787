package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/worker"

	"github.com/kalisio/k2/internal/adapters/gdal"
	natsadapter "github.com/kalisio/k2/internal/adapters/nats"
	temporaladapter "github.com/kalisio/k2/internal/adapters/temporal"
	"github.com/kalisio/k2/internal/adapters/valkey"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
	"github.com/kalisio/k2/internal/pkg/config"
	"github.com/kalisio/k2/internal/pkg/logging"
	"github.com/kalisio/k2/internal/pkg/telemetry"
	"github.com/kalisio/k2/internal/pkg/workpool"
	"github.com/kalisio/k2/internal/workflows"
)

func main() {
	cfg, err := config.Load("k2-worker")
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

	// Results are handed to the API through the cache, so it is required here.
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer cache.Close()

	var events ports.EventPublisher
	var resampler ports.Resampler = gdal.New(cfg.Elevation.GDALWarpPath, cfg.Elevation.ScratchDir)
	if cfg.NATS.URL != "" {
		nc, err := natsadapter.Connect(cfg.NATS.URL, "k2-worker")
		if err != nil {
			slog.Warn("nats unavailable, no progress events", "error", err)
		} else {
			defer nc.Drain()
			if pub, err := natsadapter.NewPublisher(nc); err == nil {
				events = pub
			}
			if cfg.Elevation.Engine == "nats" {
				resampler = natsadapter.NewRequester(nc, cfg.Elevation.JobTimeout)
			}
		}
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

	// Connect to Temporal
	c, err := temporaladapter.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Elevation.MaxConcurrency,
	})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.ProfileWorkflow)
	w.RegisterActivity(&workflows.ProfileActivities{
		Profiles:  profiles,
		Results:   cache,
		ResultTTL: cfg.Elevation.CacheTTL,
	})

	slog.Info("profile worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
