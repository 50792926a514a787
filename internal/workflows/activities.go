package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
	"github.com/kalisio/k2/internal/pkg/logging"
)

// ErrTypeInvalidRequest marks failures retrying cannot fix.
const ErrTypeInvalidRequest = "InvalidProfileRequest"

// ResultKey is the cache key a job's profile is stored under.
func ResultKey(jobID string) string {
	return "elevation:job:" + jobID
}

// ProfileSummary is what the workflow returns; the profile itself is too
// large for workflow history and lives in the cache.
type ProfileSummary struct {
	Key    string  `json:"key"`
	Points int     `json:"points"`
	Length float64 `json:"length"`
}

// ProfileActivities holds the activity implementations for the profile workflow.
type ProfileActivities struct {
	Profiles  *usecases.ProfileService
	Results   ports.CacheService
	ResultTTL time.Duration
}

// ComputeProfile runs the profile pipeline and stores the result.
func (a *ProfileActivities) ComputeProfile(ctx context.Context, req domain.ProfileRequest) (ProfileSummary, error) {
	log := logging.FromContext(ctx).With("job_id", req.ID)

	prof, err := a.Profiles.Compute(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPath) || errors.Is(err, domain.ErrInvalidResolution) ||
			errors.Is(err, domain.ErrInvalidDataset) ||
			errors.Is(err, domain.ErrSampleCountMismatch) {
			return ProfileSummary{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
		}
		return ProfileSummary{}, err
	}

	data, err := json.Marshal(prof)
	if err != nil {
		return ProfileSummary{}, fmt.Errorf("encode profile: %w", err)
	}
	key := ResultKey(req.ID)
	if err := a.Results.Set(ctx, key, data, int(a.ResultTTL.Seconds())); err != nil {
		return ProfileSummary{}, fmt.Errorf("store profile %s: %w", req.ID, err)
	}

	log.Info("job profile stored", "points", len(prof.Points), "bytes", len(data))
	return ProfileSummary{Key: key, Points: len(prof.Points), Length: prof.Length}, nil
}

// DiscardProfile removes a stored result (saga compensation on cancellation).
func (a *ProfileActivities) DiscardProfile(ctx context.Context, jobID string) error {
	if err := a.Results.Delete(ctx, ResultKey(jobID)); err != nil {
		return fmt.Errorf("discard profile %s: %w", jobID, err)
	}
	return nil
}
