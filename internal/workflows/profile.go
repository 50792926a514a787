package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/kalisio/k2/internal/core/domain"
)

const defaultComputeTimeout = 10 * time.Minute

// ProfileInput is the input for the profile workflow.
type ProfileInput struct {
	Request domain.ProfileRequest
	// ComputeTimeout bounds one compute attempt; 0 means 10 minutes.
	ComputeTimeout time.Duration
}

// ProfileWorkflow computes one elevation profile asynchronously. If the
// workflow is canceled while computing, any stored result is discarded.
func ProfileWorkflow(ctx workflow.Context, input ProfileInput) (ProfileSummary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting profile workflow", "jobID", input.Request.ID, "vertices", len(input.Request.Path))

	timeout := input.ComputeTimeout
	if timeout <= 0 {
		timeout = defaultComputeTimeout
	}
	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidRequest},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var summary ProfileSummary
	err := workflow.ExecuteActivity(ctx, "ComputeProfile", input.Request).Get(ctx, &summary)
	if err != nil {
		if temporal.IsCanceledError(err) {
			// Compensate: the attempt may have stored its result before the cancel landed.
			dctx, _ := workflow.NewDisconnectedContext(ctx)
			dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{StartToCloseTimeout: 30 * time.Second})
			if derr := workflow.ExecuteActivity(dctx, "DiscardProfile", input.Request.ID).Get(dctx, nil); derr != nil {
				logger.Warn("discard after cancel failed", "error", derr)
			}
		}
		return ProfileSummary{}, err
	}

	logger.Info("Profile workflow completed", "points", summary.Points, "length", summary.Length)
	return summary, nil
}
