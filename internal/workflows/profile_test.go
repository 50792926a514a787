package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
)

var testRequest = domain.ProfileRequest{
	ID:         "job-1",
	Path:       domain.Path{{Lon: 1.44, Lat: 43.6}, {Lon: 1.45, Lat: 43.6}},
	Resolution: 30,
}

func TestProfileWorkflow_Completes(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&ProfileActivities{})

	env.OnActivity("ComputeProfile", mock.Anything, mock.Anything).
		Return(ProfileSummary{Key: ResultKey("job-1"), Points: 28, Length: 805}, nil)

	env.ExecuteWorkflow(ProfileWorkflow, ProfileInput{Request: testRequest})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ProfileSummary
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "elevation:job:job-1", out.Key)
	assert.Equal(t, 28, out.Points)
}

func TestProfileWorkflow_InvalidRequestIsNotRetried(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&ProfileActivities{})

	calls := 0
	env.OnActivity("ComputeProfile", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req domain.ProfileRequest) (ProfileSummary, error) {
			calls++
			return ProfileSummary{}, temporal.NewNonRetryableApplicationError("bad path", ErrTypeInvalidRequest, domain.ErrInvalidPath)
		})

	env.ExecuteWorkflow(ProfileWorkflow, ProfileInput{Request: testRequest})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}

func TestProfileWorkflow_EngineFailureIsRetried(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&ProfileActivities{})

	calls := 0
	env.OnActivity("ComputeProfile", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req domain.ProfileRequest) (ProfileSummary, error) {
			calls++
			if calls < 3 {
				return ProfileSummary{}, errors.New("gdalwarp crashed")
			}
			return ProfileSummary{Key: ResultKey(req.ID), Points: 2}, nil
		})

	env.ExecuteWorkflow(ProfileWorkflow, ProfileInput{Request: testRequest})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, calls)
}

// --- activity ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("miss")
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type flatResampler struct{}

func (flatResampler) Resample(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
	return &domain.RasterResult{Values: make([]float64, req.SampleCount)}, nil
}

func TestComputeProfileActivity_StoresResult(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	acts := &ProfileActivities{
		Profiles: usecases.NewProfileService(flatResampler{}, nil, nil, usecases.ProfileOptions{
			Datasets:   []domain.Dataset{{File: "srtm.vrt"}},
			ScratchDir: t.TempDir(),
		}),
		Results: cache,
	}

	var s testsuite.WorkflowTestSuite
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.ComputeProfile, testRequest)
	require.NoError(t, err)

	var summary ProfileSummary
	require.NoError(t, val.Get(&summary))
	assert.Equal(t, ResultKey("job-1"), summary.Key)
	assert.Greater(t, summary.Points, 1)

	var stored domain.Profile
	require.NoError(t, json.Unmarshal(cache.data[summary.Key], &stored))
	assert.Len(t, stored.Points, summary.Points)

	_, err = env.ExecuteActivity(acts.DiscardProfile, "job-1")
	require.NoError(t, err)
	assert.Empty(t, cache.data)
}
