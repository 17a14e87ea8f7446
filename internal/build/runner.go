package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/docpush/internal/log"
	"github.com/mattjoyce/docpush/internal/queue"
	"github.com/mattjoyce/docpush/internal/workspace"
)

// State is a BuildRunner stage.
type State string

const (
	StatePending    State = "pending"
	StateCloning    State = "cloning"
	StateBuilding   State = "building"
	StatePublishing State = "publishing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ErrUnknownStrategy is returned for a job whose build type is not registered.
var ErrUnknownStrategy = errors.New("unknown build strategy")

// StageError identifies the stage a build failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Report is the outcome of Runner.Run.
type Report struct {
	JobID    string
	State    State
	Publish  PublishReport
	Duration time.Duration
}

// Runner executes one job: clone, build, publish. The workspace is removed
// on every path out of Run once it has been created.
type Runner struct {
	workspaces workspace.Manager
	cloner     Cloner
	strategies *Registry
	publisher  *Publisher
	logger     *slog.Logger
}

func NewRunner(ws workspace.Manager, cloner Cloner, strategies *Registry, publisher *Publisher) *Runner {
	return &Runner{
		workspaces: ws,
		cloner:     cloner,
		strategies: strategies,
		publisher:  publisher,
		logger:     log.WithComponent("runner"),
	}
}

// Run builds and publishes job. Progress and tool output go to out. A
// non-nil error is always a *StageError.
func (r *Runner) Run(ctx context.Context, job queue.JobDescriptor, out io.Writer) (Report, error) {
	if out == nil {
		out = io.Discard
	}
	start := time.Now()
	report := Report{JobID: job.ID, State: StatePending}
	logger := r.logger.With("job_id", job.ID, "repository", job.Repository, "branch", job.Branch)

	fail := func(stage State, err error) (Report, error) {
		report.State = StateFailed
		report.Duration = time.Since(start)
		fmt.Fprintf(out, "==> %s failed: %v\n", stage, err)
		logger.Error("build failed", "stage", stage, "error", err)
		return report, &StageError{Stage: stage, Err: err}
	}

	strategy, ok := r.strategies.Get(job.BuildType)
	if !ok {
		return fail(StatePending, fmt.Errorf("%w: %q", ErrUnknownStrategy, job.BuildType))
	}
	// Refuse early so a bad target never costs a clone.
	if _, err := r.publisher.CheckOutput(job.OutputPath); err != nil {
		return fail(StatePublishing, err)
	}

	ws, err := r.workspaces.Create(ctx, "build-"+uuid.NewString())
	if err != nil {
		return fail(StatePending, fmt.Errorf("create workspace: %w", err))
	}
	defer func() {
		if err := r.workspaces.Remove(context.WithoutCancel(ctx), ws.JobID); err != nil {
			logger.Error("failed to remove workspace", "dir", ws.Dir, "error", err)
		}
	}()

	repoName := path.Base(job.Repository)

	report.State = StateCloning
	fmt.Fprintf(out, "==> cloning %s (%s)\n", job.Repository, job.Branch)
	if err := r.cloner.Clone(ctx, job.Repository, job.Branch, filepath.Join(ws.Dir, repoName), out); err != nil {
		return fail(StateCloning, err)
	}

	report.State = StateBuilding
	fmt.Fprintf(out, "==> building with %s\n", strategy.Name())
	res, err := strategy.Build(ctx, Input{WorkDir: ws.Dir, RepoName: repoName, Branch: job.Branch, Log: out})
	if err != nil {
		return fail(StateBuilding, err)
	}

	report.State = StatePublishing
	fmt.Fprintf(out, "==> publishing to %s\n", job.OutputPath)
	pub, err := r.publisher.Publish(ctx, res.SiteDir, job.OutputPath)
	if err != nil {
		return fail(StatePublishing, err)
	}

	report.State = StateDone
	report.Publish = pub
	report.Duration = time.Since(start)
	fmt.Fprintf(out, "==> done (%s, digest %s)\n", pub.Mode, pub.Digest)
	logger.Info("build succeeded", "mode", pub.Mode, "digest", pub.Digest, "duration", report.Duration)
	return report, nil
}
