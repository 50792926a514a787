package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/kalisio/k2/internal/adapters/gdal"
	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/usecases"
	"github.com/kalisio/k2/internal/pkg/config"
	"github.com/kalisio/k2/internal/pkg/export"
	"github.com/kalisio/k2/internal/pkg/geojson"
	"github.com/kalisio/k2/internal/pkg/logging"
	"github.com/kalisio/k2/internal/pkg/workpool"
)

// profile computes elevation profiles for GeoJSON files on disk, without the
// API. Each input gets a sibling <name>.profile.geojson (or .kml).
//
//	profile [-resolution 30] [-parallel 2] [-format geojson|kml] path.geojson...
func main() {
	resolution := flag.Float64("resolution", 0, "sampling resolution in meters (0 = configured default)")
	concurrency := flag.Int("concurrency", 0, "resampling jobs per profile (0 = configured default)")
	corridor := flag.Float64("corridor", 0, "corridor width in meters")
	offset := flag.Int("offset", 0, "elevation offset added to every sample")
	dem := flag.String("dem", "", "DEM file overriding dataset selection")
	parallel := flag.Int("parallel", 2, "files processed at once")
	format := flag.String("format", "geojson", "output format: geojson or kml")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("usage: profile [flags] <file.geojson>...")
	}
	if *format != "geojson" && *format != "kml" {
		log.Fatalf("unknown format %q", *format)
	}
	if *parallel < 1 {
		*parallel = 1
	}

	cfg, err := config.Load("k2-profile")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, "text")

	policy, err := workpool.ParsePolicy(cfg.Elevation.FailurePolicy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	profiles := usecases.NewProfileService(
		gdal.New(cfg.Elevation.GDALWarpPath, cfg.Elevation.ScratchDir),
		nil, nil,
		usecases.ProfileOptions{
			DEMDir:             cfg.Elevation.DEMDir,
			Datasets:           cfg.Elevation.Datasets,
			DefaultResolution:  cfg.Elevation.DefaultResolution,
			MinResolution:      cfg.Elevation.MinResolution,
			DefaultConcurrency: cfg.Elevation.DefaultConcurrency,
			MaxConcurrency:     cfg.Elevation.MaxConcurrency,
			JobTimeout:         cfg.Elevation.JobTimeout,
			Policy:             policy,
			ScratchDir:         cfg.Elevation.ScratchDir,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	template := domain.ProfileRequest{
		Resolution:      *resolution,
		Concurrency:     *concurrency,
		CorridorWidth:   *corridor,
		ElevationOffset: *offset,
		DEMOverride:     *dem,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	sem := make(chan struct{}, *parallel)

	for _, in := range flag.Args() {
		wg.Add(1)
		go func(in string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := profileFile(ctx, profiles, template, in, *format)
			if err != nil {
				slog.Error("profile failed", "file", in, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			slog.Info("profile written", "file", in, "output", out)
		}(in)
	}

	wg.Wait()
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d profiles failed\n", failed, flag.NArg())
		os.Exit(1)
	}
}

func profileFile(ctx context.Context, profiles *usecases.ProfileService, req domain.ProfileRequest, in, format string) (string, error) {
	raw, err := os.ReadFile(in)
	if err != nil {
		return "", err
	}
	if problems := geojson.Validate(raw); len(problems) > 0 {
		return "", fmt.Errorf("invalid geojson: %s", problems[0].Message)
	}
	req.Path, err = geojson.ExtractPath(raw)
	if err != nil {
		return "", err
	}
	req.ID = filepath.Base(in)

	prof, err := profiles.Compute(ctx, req)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(in, filepath.Ext(in))
	var out string
	var data []byte
	switch format {
	case "kml":
		out = base + ".profile.kml"
		data, err = export.KML(prof, filepath.Base(base))
	default:
		out = base + ".profile.geojson"
		data, err = json.MarshalIndent(export.FeatureCollection(prof), "", "  ")
	}
	if err != nil {
		return "", err
	}
	return out, os.WriteFile(out, data, 0o644)
}
