package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/profile"
	"github.com/kalisio/k2/internal/pkg/logging"
	"github.com/kalisio/k2/internal/pkg/metrics"
	"github.com/kalisio/k2/internal/pkg/telemetry"
	"github.com/kalisio/k2/internal/pkg/workpool"
)

// ProfileOptions configures a ProfileService.
type ProfileOptions struct {
	DEMDir             string
	Datasets           []domain.Dataset
	DefaultResolution  float64
	MinResolution      float64
	DefaultConcurrency int
	MaxConcurrency     int
	JobTimeout         time.Duration
	Policy             workpool.Policy
	ScratchDir         string
	CacheTTL           time.Duration
}

// ProfileService computes elevation profiles along paths.
type ProfileService struct {
	planner   *profile.Planner
	resampler ports.Resampler
	cache     ports.CacheService
	events    ports.EventPublisher
	opts      ProfileOptions
}

// NewProfileService creates a new ProfileService. cache and events may be nil.
func NewProfileService(resampler ports.Resampler, cache ports.CacheService, events ports.EventPublisher, opts ProfileOptions) *ProfileService {
	if opts.DefaultResolution <= 0 {
		opts.DefaultResolution = 30
	}
	if opts.MinResolution <= 0 {
		opts.MinResolution = opts.DefaultResolution
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 4
	}
	if opts.MaxConcurrency < opts.DefaultConcurrency {
		opts.MaxConcurrency = opts.DefaultConcurrency
	}
	datasets := append([]domain.Dataset(nil), opts.Datasets...)
	sortDatasets(datasets)
	opts.Datasets = datasets

	return &ProfileService{
		planner:   profile.NewPlanner(),
		resampler: resampler,
		cache:     cache,
		events:    events,
		opts:      opts,
	}
}

// sortDatasets orders bounded entries by ceiling, the unbounded one last.
func sortDatasets(ds []domain.Dataset) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i].MaxResolution, ds[j].MaxResolution
		if a <= 0 {
			return false
		}
		if b <= 0 {
			return true
		}
		return a < b
	})
}

// Normalize fills defaults and clamps request parameters into their allowed
// ranges. It never fails.
func (s *ProfileService) Normalize(req domain.ProfileRequest) domain.ProfileRequest {
	if req.Resolution <= 0 || math.IsNaN(req.Resolution) || math.IsInf(req.Resolution, 0) {
		req.Resolution = s.opts.DefaultResolution
	}
	if req.Resolution < s.opts.MinResolution {
		req.Resolution = s.opts.MinResolution
	}
	if req.Concurrency <= 0 {
		req.Concurrency = s.opts.DefaultConcurrency
	}
	if req.Concurrency > s.opts.MaxConcurrency {
		req.Concurrency = s.opts.MaxConcurrency
	}
	if req.CorridorWidth < 0 || math.IsNaN(req.CorridorWidth) {
		req.CorridorWidth = 0
	}
	return req
}

// SelectDataset returns the DEM file for a resolution: the first dataset whose
// ceiling is above it, or the unbounded one. An override wins but must name a
// file inside the DEM directory.
func (s *ProfileService) SelectDataset(resolution float64, override string) (string, error) {
	if override != "" {
		return s.overridePath(override)
	}
	var fallback string
	for _, d := range s.opts.Datasets {
		if d.MaxResolution <= 0 {
			fallback = d.File
			continue
		}
		if resolution < d.MaxResolution {
			return s.datasetPath(d.File), nil
		}
	}
	if fallback == "" && len(s.opts.Datasets) > 0 {
		fallback = s.opts.Datasets[len(s.opts.Datasets)-1].File
	}
	return s.datasetPath(fallback), nil
}

// overridePath resolves a caller supplied DEM file against the DEM directory.
func (s *ProfileService) overridePath(file string) (string, error) {
	if filepath.IsAbs(file) || s.opts.DEMDir == "" {
		return "", fmt.Errorf("%w: %q must be relative to the DEM directory", domain.ErrInvalidDataset, file)
	}
	root := filepath.Clean(s.opts.DEMDir)
	full := filepath.Join(root, file)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the DEM directory", domain.ErrInvalidDataset, file)
	}
	return full, nil
}

func (s *ProfileService) datasetPath(file string) string {
	if file == "" || filepath.IsAbs(file) || s.opts.DEMDir == "" {
		return file
	}
	return filepath.Join(s.opts.DEMDir, file)
}

// CacheKey identifies the result of a request. Parameters that do not change
// the profile (ID, concurrency) are left out.
func (s *ProfileService) CacheKey(req domain.ProfileRequest) string {
	req = s.Normalize(req)
	key := struct {
		Path            domain.Path
		Resolution      float64
		CorridorWidth   float64
		ElevationOffset int
		Dataset         string
	}{req.Path, req.Resolution, req.CorridorWidth, req.ElevationOffset, req.DEMOverride}
	if dataset, err := s.SelectDataset(req.Resolution, req.DEMOverride); err == nil {
		key.Dataset = dataset
	}
	b, _ := json.Marshal(key)
	sum := sha256.Sum256(b)
	return "elevation:profile:" + hex.EncodeToString(sum[:])
}

// Compute runs the whole pipeline for one request: plan the segments, resample
// them on a bounded pool, and assemble the profile. The scratch directory of
// the request is removed on every exit path.
func (s *ProfileService) Compute(ctx context.Context, req domain.ProfileRequest) (*domain.Profile, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req = s.Normalize(req)
	log := logging.FromContext(ctx).With("profile_id", req.ID)
	started := time.Now()

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanProfile)
	defer span.End()
	span.SetAttributes(
		attribute.String("profile.id", req.ID),
		attribute.Int("profile.vertices", len(req.Path)),
		attribute.Float64("profile.resolution", req.Resolution),
	)

	dataset, err := s.SelectDataset(req.Resolution, req.DEMOverride)
	if err != nil {
		metrics.ProfileRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	cacheKey := s.CacheKey(req)
	if cached := s.fromCache(ctx, cacheKey); cached != nil {
		metrics.ProfileRequests.WithLabelValues("cached").Inc()
		return cached, nil
	}

	prof, err := s.compute(ctx, req, dataset, log)
	s.publishCompleted(ctx, req.ID, prof, err, time.Since(started), log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ProfileRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ProfileRequests.WithLabelValues("ok").Inc()
	metrics.ProfilePoints.Observe(float64(len(prof.Points)))
	s.toCache(ctx, cacheKey, prof)

	log.Info("profile computed",
		"points", len(prof.Points),
		"length_m", prof.Length,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return prof, nil
}

func (s *ProfileService) compute(ctx context.Context, req domain.ProfileRequest, dataset string, log *slog.Logger) (*domain.Profile, error) {
	tracer := telemetry.Tracer()

	_, planSpan := tracer.Start(ctx, telemetry.SpanPlan)
	plan, err := s.planner.Plan(req.Path, req.Resolution, req.CorridorWidth)
	planSpan.End()
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	sampled := plan.SamplePlans()
	if len(sampled) == 0 {
		return profile.Assemble(plan, nil, float64(req.ElevationOffset))
	}

	scratch, err := os.MkdirTemp(s.opts.ScratchDir, "k2-profile-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("scratch cleanup failed", "dir", scratch, "error", err)
		}
	}()

	results := make([]*domain.RasterResult, len(sampled))
	jobs := make([]workpool.Job, len(sampled))
	for i, seg := range sampled {
		i, seg := i, seg
		rr := ports.ResampleRequest{
			Segment:     seg.Index,
			Projection:  seg.Projection,
			Extent:      seg.Extent,
			SampleCount: seg.SampleCount,
			Dataset:     dataset,
			OutputPath:  filepath.Join(scratch, fmt.Sprintf("segment-%d", seg.Index)),
		}
		jobs[i] = func(ctx context.Context) error {
			ctx, span := tracer.Start(ctx, telemetry.SpanResample)
			defer span.End()
			span.SetAttributes(attribute.Int("segment.index", seg.Index), attribute.Int("segment.samples", seg.SampleCount))

			res, err := s.resampler.Resample(ctx, rr)
			if err != nil {
				span.RecordError(err)
				var re *domain.ResampleError
				if !errors.As(err, &re) {
					err = &domain.ResampleError{Segment: seg.Index, Op: "resample", Err: err}
				}
				return err
			}
			results[i] = res
			return nil
		}
	}

	completed := 0
	schedCtx, schedSpan := tracer.Start(ctx, telemetry.SpanSchedule)
	outcomes, runErr := workpool.Run(schedCtx, jobs, workpool.Options{
		Concurrency: req.Concurrency,
		Policy:      s.opts.Policy,
		JobTimeout:  s.opts.JobTimeout,
		OnSettle: func(o workpool.Outcome) {
			completed++
			outcome := "ok"
			ev := &domain.ProgressEvent{
				RequestID: req.ID,
				Segment:   sampled[o.Index].Index,
				Completed: completed,
				Total:     len(jobs),
				Timestamp: time.Now().UTC(),
			}
			if o.Err != nil {
				outcome = "error"
				ev.Error = o.Err.Error()
				log.Warn("resample job failed", "segment", ev.Segment, "error", o.Err)
			}
			metrics.ResampleJobs.WithLabelValues(outcome).Inc()
			metrics.ResampleJobDuration.Observe(o.Duration.Seconds())
			s.publishProgress(ctx, ev, log)
		},
	})
	schedSpan.End()

	if runErr != nil {
		if s.opts.Policy == workpool.FailFast {
			return nil, unwrapJobError(runErr)
		}
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				results[o.Index] = nil
			}
		}
		if failed == len(outcomes) {
			return nil, unwrapJobError(runErr)
		}
		log.Warn("profile computed with missing segments", "failed", failed, "total", len(outcomes))
	}

	_, asmSpan := tracer.Start(ctx, telemetry.SpanAssemble)
	defer asmSpan.End()
	return profile.Assemble(plan, results, float64(req.ElevationOffset))
}

// unwrapJobError surfaces the segment-level error, which already names the
// failing segment.
func unwrapJobError(err error) error {
	var je *workpool.JobError
	if errors.As(err, &je) {
		return je.Err
	}
	return err
}

func (s *ProfileService) fromCache(ctx context.Context, key string) *domain.Profile {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("profile").Inc()
		return nil
	}
	var prof domain.Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		metrics.CacheMisses.WithLabelValues("profile").Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues("profile").Inc()
	return &prof
}

func (s *ProfileService) toCache(ctx context.Context, key string, prof *domain.Profile) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return
	}
	if data, err := json.Marshal(prof); err == nil {
		_ = s.cache.Set(ctx, key, data, int(s.opts.CacheTTL.Seconds()))
	}
}

func (s *ProfileService) publishProgress(ctx context.Context, ev *domain.ProgressEvent, log *slog.Logger) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishProgress(ctx, ev); err != nil {
		log.Warn("publish progress failed", "error", err)
	}
}

func (s *ProfileService) publishCompleted(ctx context.Context, id string, prof *domain.Profile, err error, d time.Duration, log *slog.Logger) {
	if s.events == nil {
		return
	}
	ev := &domain.ProfileCompleted{RequestID: id, Duration: d}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Points = len(prof.Points)
		ev.Length = prof.Length
	}
	if perr := s.events.PublishCompleted(ctx, ev); perr != nil {
		log.Warn("publish completion failed", "error", perr)
	}
}
