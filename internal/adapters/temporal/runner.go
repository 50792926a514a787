// Package temporaladapter runs profile requests as Temporal workflows.
package temporaladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/workflows"
)

const workflowIDPrefix = "elevation-profile-"

// Dial connects to the Temporal frontend.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{HostPort: hostPort, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("temporal dial %s: %w", hostPort, err)
	}
	return c, nil
}

// Runner implements ports.JobRunner on top of a Temporal client. Completed
// profiles are read back from the results cache.
type Runner struct {
	client         client.Client
	taskQueue      string
	results        ports.CacheService
	computeTimeout time.Duration
}

// NewRunner creates a Runner.
func NewRunner(c client.Client, taskQueue string, results ports.CacheService, computeTimeout time.Duration) *Runner {
	return &Runner{client: c, taskQueue: taskQueue, results: results, computeTimeout: computeTimeout}
}

// WorkflowID is the workflow ID of a job.
func WorkflowID(jobID string) string {
	return workflowIDPrefix + jobID
}

// Start launches a profile workflow and returns the job ID.
func (r *Runner) Start(ctx context.Context, req domain.ProfileRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(req.ID),
		TaskQueue: r.taskQueue,
	}
	_, err := r.client.ExecuteWorkflow(ctx, opts, workflows.ProfileWorkflow, workflows.ProfileInput{
		Request:        req,
		ComputeTimeout: r.computeTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("start profile workflow: %w", err)
	}
	return req.ID, nil
}

// Status describes a job. A completed job carries its profile.
func (r *Runner) Status(ctx context.Context, id string) (*domain.JobStatus, error) {
	desc, err := r.client.DescribeWorkflowExecution(ctx, WorkflowID(id), "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("describe job %s: %w", id, err)
	}

	st := &domain.JobStatus{ID: id, Status: statusName(desc.GetWorkflowExecutionInfo().GetStatus())}
	switch st.Status {
	case "completed":
		data, err := r.results.Get(ctx, workflows.ResultKey(id))
		if err != nil {
			st.Status = "expired"
			st.Error = "profile result is no longer available"
			return st, nil
		}
		var prof domain.Profile
		if err := json.Unmarshal(data, &prof); err != nil {
			return nil, fmt.Errorf("decode job %s result: %w", id, err)
		}
		st.Profile = &prof
	case "failed", "timed_out", "terminated", "canceled":
		if werr := r.client.GetWorkflow(ctx, WorkflowID(id), "").Get(ctx, nil); werr != nil {
			st.Error = werr.Error()
		}
	}
	return st, nil
}

// Ping checks the Temporal frontend.
func (r *Runner) Ping(ctx context.Context) error {
	_, err := r.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

func statusName(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	default:
		return "running"
	}
}
