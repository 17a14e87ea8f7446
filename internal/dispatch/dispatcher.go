package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/docpush/internal/log"
	"github.com/mattjoyce/docpush/internal/queue"
)

var (
	ErrUnknownBuildType = errors.New("unknown build type")
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// Dispatcher enqueues build jobs.
type Dispatcher struct {
	queue       Enqueuer
	registry    Registry
	submittedBy string
	logger      *slog.Logger
}

// New creates a Dispatcher. submittedBy is recorded on every job, e.g.
// "webhook" or "cli".
func New(q Enqueuer, reg Registry, submittedBy string) *Dispatcher {
	return &Dispatcher{
		queue:       q,
		registry:    reg,
		submittedBy: submittedBy,
		logger:      log.WithComponent("dispatch"),
	}
}

// Dispatch enqueues one build of repository@branch into outputPath and
// returns the job id.
func (d *Dispatcher) Dispatch(ctx context.Context, buildType, repository, branch, outputPath string) (string, error) {
	if !d.registry.Has(buildType) {
		return "", fmt.Errorf("%w: %q", ErrUnknownBuildType, buildType)
	}

	jobID, err := d.queue.Enqueue(ctx, queue.EnqueueRequest{
		Repository:  repository,
		Branch:      branch,
		OutputPath:  outputPath,
		BuildType:   buildType,
		SubmittedBy: d.submittedBy,
	})
	if err != nil {
		d.logger.Error("failed to enqueue build job", "repository", repository, "branch", branch, "error", err)
		return "", fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	d.logger.Info("build job queued",
		"job_id", jobID,
		"repository", repository,
		"branch", branch,
		"build_type", buildType,
		"output", outputPath,
	)
	return jobID, nil
}
