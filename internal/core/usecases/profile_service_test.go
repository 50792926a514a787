package usecases_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
	"github.com/kalisio/k2/internal/pkg/workpool"
)

// --- Mock Resampler ---

type mockResampler struct {
	calls      atomic.Int32
	mu         sync.Mutex
	requests   []ports.ResampleRequest
	resampleFn func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error)
}

func (m *mockResampler) Resample(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.resampleFn != nil {
		return m.resampleFn(ctx, req)
	}
	return flatRow(req, 100), nil
}

func flatRow(req ports.ResampleRequest, v float64) *domain.RasterResult {
	vals := make([]float64, req.SampleCount)
	for i := range vals {
		vals[i] = v
	}
	return &domain.RasterResult{Values: vals}
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.data[key]; ok {
		return b, nil
	}
	return nil, errors.New("miss")
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock EventPublisher ---

type mockEvents struct {
	mu        sync.Mutex
	progress  []domain.ProgressEvent
	completed []domain.ProfileCompleted
}

func (m *mockEvents) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, *ev)
	return nil
}

func (m *mockEvents) PublishCompleted(ctx context.Context, ev *domain.ProfileCompleted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, *ev)
	return nil
}

func testOptions(t *testing.T) usecases.ProfileOptions {
	return usecases.ProfileOptions{
		DEMDir: "/dem",
		Datasets: []domain.Dataset{
			{MaxResolution: 0, File: "GMTED2010/mx30.tif"},
			{MaxResolution: 250, File: "srtm.vrt"},
			{MaxResolution: 1000, File: "GMTED2010/mx15.tif"},
			{MaxResolution: 500, File: "GMTED2010/mx75.tif"},
		},
		DefaultResolution:  30,
		MinResolution:      30,
		DefaultConcurrency: 4,
		MaxConcurrency:     6,
		ScratchDir:         t.TempDir(),
	}
}

// about 2.2 km east then 1.1 km north near Toulouse
var testPath = domain.Path{
	{Lat: 43.6, Lon: 1.44},
	{Lat: 43.6, Lon: 1.4675},
	{Lat: 43.61, Lon: 1.4675},
}

// --- Tests ---

func TestProfileService_SelectDataset(t *testing.T) {
	svc := usecases.NewProfileService(&mockResampler{}, nil, nil, testOptions(t))

	cases := []struct {
		resolution float64
		override   string
		want       string
	}{
		{30, "", "/dem/srtm.vrt"},
		{249, "", "/dem/srtm.vrt"},
		{250, "", "/dem/GMTED2010/mx75.tif"},
		{600, "", "/dem/GMTED2010/mx15.tif"},
		{1000, "", "/dem/GMTED2010/mx30.tif"},
		{5000, "", "/dem/GMTED2010/mx30.tif"},
		{30, "custom.tif", "/dem/custom.tif"},
		{30, "regional/../custom.tif", "/dem/custom.tif"},
	}
	for _, tc := range cases {
		got, err := svc.SelectDataset(tc.resolution, tc.override)
		if err != nil {
			t.Errorf("SelectDataset(%v, %q): unexpected error %v", tc.resolution, tc.override, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SelectDataset(%v, %q) = %q, want %q", tc.resolution, tc.override, got, tc.want)
		}
	}
}

func TestProfileService_SelectDatasetRejectsEscapes(t *testing.T) {
	svc := usecases.NewProfileService(&mockResampler{}, nil, nil, testOptions(t))

	for _, override := range []string{"/etc/shadow", "../../etc/shadow", "..", "srtm/../../secret.tif"} {
		got, err := svc.SelectDataset(30, override)
		if !errors.Is(err, domain.ErrInvalidDataset) {
			t.Errorf("SelectDataset(30, %q) = %q, %v; want ErrInvalidDataset", override, got, err)
		}
	}
}

func TestProfileService_ComputeRejectsEscapingOverride(t *testing.T) {
	res := &mockResampler{}
	svc := usecases.NewProfileService(res, nil, nil, testOptions(t))

	_, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath, DEMOverride: "../../etc/shadow"})
	if !errors.Is(err, domain.ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset, got %v", err)
	}
	if res.calls.Load() != 0 {
		t.Errorf("expected no resampling, got %d calls", res.calls.Load())
	}
}

func TestProfileService_Normalize(t *testing.T) {
	svc := usecases.NewProfileService(&mockResampler{}, nil, nil, testOptions(t))

	got := svc.Normalize(domain.ProfileRequest{Resolution: 5, Concurrency: 50, CorridorWidth: -3})
	if got.Resolution != 30 {
		t.Errorf("expected resolution clamped to 30, got %v", got.Resolution)
	}
	if got.Concurrency != 6 {
		t.Errorf("expected concurrency clamped to 6, got %d", got.Concurrency)
	}
	if got.CorridorWidth != 0 {
		t.Errorf("expected corridor width 0, got %v", got.CorridorWidth)
	}

	got = svc.Normalize(domain.ProfileRequest{})
	if got.Resolution != 30 || got.Concurrency != 4 {
		t.Errorf("expected defaults 30/4, got %v/%d", got.Resolution, got.Concurrency)
	}
}

func TestProfileService_Compute(t *testing.T) {
	res := &mockResampler{}
	events := &mockEvents{}
	svc := usecases.NewProfileService(res, nil, events, testOptions(t))

	prof, err := svc.Compute(context.Background(), domain.ProfileRequest{
		ID:              "req-1",
		Path:            testPath,
		Resolution:      100,
		ElevationOffset: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prof.Points) < 30 {
		t.Fatalf("expected at least 30 points, got %d", len(prof.Points))
	}
	if res.calls.Load() != 2 {
		t.Errorf("expected 2 resample calls, got %d", res.calls.Load())
	}
	for i, p := range prof.Points {
		if p.Elevation != 102 {
			t.Fatalf("point %d: expected elevation 102, got %v", i, p.Elevation)
		}
		if i > 0 && p.Distance <= prof.Points[i-1].Distance {
			t.Fatalf("point %d: distance not increasing", i)
		}
	}
	if last := prof.Points[len(prof.Points)-1]; last.Location != testPath.Last() {
		t.Errorf("expected profile to end on the path end, got %+v", last.Location)
	}

	for _, r := range res.requests {
		if r.Dataset != "/dem/srtm.vrt" {
			t.Errorf("segment %d: unexpected dataset %q", r.Segment, r.Dataset)
		}
		if r.Projection == "" {
			t.Errorf("segment %d: missing projection", r.Segment)
		}
	}
	if res.requests[0].OutputPath == res.requests[1].OutputPath {
		t.Error("segments share an output path")
	}

	if len(events.progress) != 2 {
		t.Errorf("expected 2 progress events, got %d", len(events.progress))
	}
	if len(events.completed) != 1 || events.completed[0].RequestID != "req-1" || events.completed[0].Error != "" {
		t.Errorf("unexpected completion events: %+v", events.completed)
	}
}

func TestProfileService_ScratchRemovedOnSuccessAndFailure(t *testing.T) {
	for _, fail := range []bool{false, true} {
		var dirs sync.Map
		res := &mockResampler{
			resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
				dir := filepath.Dir(req.OutputPath)
				dirs.Store(dir, true)
				if err := os.WriteFile(req.OutputPath+".bil", []byte{0}, 0o600); err != nil {
					return nil, err
				}
				if fail {
					return nil, errors.New("engine down")
				}
				return flatRow(req, 1), nil
			},
		}
		svc := usecases.NewProfileService(res, nil, nil, testOptions(t))
		_, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
		if fail && err == nil {
			t.Fatal("expected error")
		}
		if !fail && err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		seen := 0
		dirs.Range(func(k, _ any) bool {
			seen++
			if _, err := os.Stat(k.(string)); !os.IsNotExist(err) {
				t.Errorf("scratch dir %s still exists (fail=%v)", k, fail)
			}
			return true
		})
		if seen != 1 {
			t.Errorf("expected one scratch dir per request, got %d", seen)
		}
	}
}

func TestProfileService_FailFast(t *testing.T) {
	res := &mockResampler{
		resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
			if req.Segment == 1 {
				return nil, &domain.ResampleError{Segment: 1, Op: "exec", Err: errors.New("exit status 1")}
			}
			return flatRow(req, 1), nil
		},
	}
	opts := testOptions(t)
	opts.Policy = workpool.FailFast
	svc := usecases.NewProfileService(res, nil, nil, opts)

	_, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100, Concurrency: 1})
	var re *domain.ResampleError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResampleError, got %v", err)
	}
	if re.Segment != 1 {
		t.Errorf("expected failing segment 1, got %d", re.Segment)
	}
}

func TestProfileService_CollectAllOmitsFailedSegment(t *testing.T) {
	res := &mockResampler{
		resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
			if req.Segment == 1 {
				return nil, errors.New("timeout")
			}
			return flatRow(req, 1), nil
		},
	}
	opts := testOptions(t)
	opts.Policy = workpool.CollectAll
	svc := usecases.NewProfileService(res, nil, nil, opts)

	full, err := usecases.NewProfileService(&mockResampler{}, nil, nil, opts).
		Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	partial, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(partial.Points) == 0 || len(partial.Points) >= len(full.Points) {
		t.Errorf("expected a shorter profile, got %d of %d points", len(partial.Points), len(full.Points))
	}
}

func TestProfileService_CollectAllLastSegmentFailed(t *testing.T) {
	res := &mockResampler{
		resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
			if req.Segment == 1 {
				return nil, errors.New("engine down")
			}
			return flatRow(req, 1), nil
		},
	}
	opts := testOptions(t)
	opts.Policy = workpool.CollectAll

	full, err := usecases.NewProfileService(&mockResampler{}, nil, nil, opts).
		Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	partial, err := usecases.NewProfileService(res, nil, nil, opts).
		Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := len(partial.Points)
	if n == 0 || n >= len(full.Points) {
		t.Fatalf("expected a shorter profile, got %d of %d points", n, len(full.Points))
	}
	last := partial.Points[n-1]
	if last.Location == testPath[len(testPath)-1] {
		t.Error("last surviving sample must not be moved to the path end")
	}
	if math.Abs(last.Distance-full.Points[n-1].Distance) > 1e-9 {
		t.Errorf("expected last distance %v, got %v", full.Points[n-1].Distance, last.Distance)
	}
	if last.Distance >= partial.Length {
		t.Errorf("last distance %v should stay below the path length %v", last.Distance, partial.Length)
	}
}

func TestProfileService_CollectAllEveryJobFailed(t *testing.T) {
	res := &mockResampler{
		resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
			return nil, errors.New("engine down")
		},
	}
	opts := testOptions(t)
	opts.Policy = workpool.CollectAll
	svc := usecases.NewProfileService(res, nil, nil, opts)

	if _, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath}); err == nil {
		t.Fatal("expected error when no segment could be resampled")
	}
}

func TestProfileService_SampleCountMismatchIsFatal(t *testing.T) {
	res := &mockResampler{
		resampleFn: func(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
			return &domain.RasterResult{Values: []float64{1}}, nil
		},
	}
	svc := usecases.NewProfileService(res, nil, nil, testOptions(t))
	_, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: testPath, Resolution: 100})
	if !errors.Is(err, domain.ErrSampleCountMismatch) {
		t.Fatalf("expected ErrSampleCountMismatch, got %v", err)
	}
}

func TestProfileService_DegeneratePath(t *testing.T) {
	res := &mockResampler{}
	svc := usecases.NewProfileService(res, nil, nil, testOptions(t))

	p := domain.Path{{Lat: 1, Lon: 1}, {Lat: 1, Lon: 1}}
	prof, err := svc.Compute(context.Background(), domain.ProfileRequest{Path: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prof.Points) != 0 {
		t.Errorf("expected empty profile, got %d points", len(prof.Points))
	}
	if res.calls.Load() != 0 {
		t.Errorf("expected no resample calls, got %d", res.calls.Load())
	}
}

func TestProfileService_CacheHit(t *testing.T) {
	res := &mockResampler{}
	opts := testOptions(t)
	opts.CacheTTL = time.Minute
	svc := usecases.NewProfileService(res, newMockCache(), nil, opts)

	req := domain.ProfileRequest{Path: testPath, Resolution: 100}
	first, err := svc.Compute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := res.calls.Load()

	req.Concurrency = 2 // does not change the result
	second, err := svc.Compute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.calls.Load() != calls {
		t.Errorf("expected cached profile, resampler called again")
	}
	if len(second.Points) != len(first.Points) {
		t.Errorf("cached profile differs: %d vs %d points", len(second.Points), len(first.Points))
	}
}
