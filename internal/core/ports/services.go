package ports

import (
	"context"

	"github.com/kalisio/k2/internal/core/domain"
)

// ResampleRequest is everything an engine needs to produce the elevation row
// of one segment.
type ResampleRequest struct {
	Segment     int           `json:"segment"`
	Projection  string        `json:"projection"`
	Extent      domain.Extent `json:"extent"`
	SampleCount int           `json:"sample_count"`
	Dataset     string        `json:"dataset"`
	// OutputPath is a private, per-job file prefix; engines must not share it.
	OutputPath string `json:"output_path,omitempty"`
}

// Resampler delegates the resampling of one segment to an elevation engine.
// Failures are reported as *domain.ResampleError.
type Resampler interface {
	Resample(ctx context.Context, req ResampleRequest) (*domain.RasterResult, error)
}

// EventPublisher publishes pipeline events to a message broker.
type EventPublisher interface {
	PublishProgress(ctx context.Context, event *domain.ProgressEvent) error
	PublishCompleted(ctx context.Context, event *domain.ProfileCompleted) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// JobRunner runs profile requests asynchronously.
type JobRunner interface {
	Start(ctx context.Context, req domain.ProfileRequest) (string, error)
	Status(ctx context.Context, id string) (*domain.JobStatus, error)
}
