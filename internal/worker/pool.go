package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/docpush/internal/build"
	"github.com/mattjoyce/docpush/internal/log"
	"github.com/mattjoyce/docpush/internal/queue"
)

// Source is the queue side of the pool.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, out queue.Outcome) error
}

// Executor runs a single claimed job.
type Executor interface {
	Run(ctx context.Context, job queue.JobDescriptor, out io.Writer) (build.Report, error)
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	// LogDir, if set, receives a full <job id>.log per job.
	LogDir string
}

// Pool polls the queue and runs jobs on a fixed number of goroutines.
type Pool struct {
	source Source
	exec   Executor
	opts   Options
	logger *slog.Logger
}

func New(source Source, exec Executor, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Pool{
		source: source,
		exec:   exec,
		opts:   opts,
		logger: log.WithComponent("worker"),
	}
}

// Start runs the poll loops until ctx is cancelled. Jobs already running
// are allowed to finish before Start returns.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("worker pool started", "concurrency", p.opts.Concurrency, "poll_interval", p.opts.PollInterval)
	defer p.logger.Info("worker pool stopped")

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, n int) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to process job", "worker", n, "error", err)
			}
		}
	}
}

// Drain runs jobs until the queue is empty or ctx is done, and returns how
// many it ran.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	ran := 0
	for ctx.Err() == nil {
		ok, err := p.ProcessNext(ctx)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
	return ran, nil
}

// ProcessNext claims one job and runs it to a terminal status. It reports
// false when the queue was empty.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.source.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Shutdown must not abandon a half-published site.
	p.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	logger := log.WithJob(job.ID).With("repository", job.Repository, "branch", job.Branch, "build_type", job.BuildType)
	logger.Info("executing build job", "output", job.OutputPath)

	buf := &tailBuffer{max: maxLogBytes}
	var out io.Writer = buf
	if f := p.openJobLog(job.ID, logger); f != nil {
		defer f.Close()
		out = io.MultiWriter(buf, f)
	}

	rep, err := p.exec.Run(ctx, job.JobDescriptor, &syncWriter{w: out})

	outcome := queue.Outcome{BuildLog: buf.String()}
	switch {
	case err == nil:
		outcome.Status = queue.StatusSucceeded
		outcome.SiteDigest = rep.Publish.Digest
		logger.Info("build job succeeded", "duration", rep.Duration, "mode", rep.Publish.Mode)
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Status = queue.StatusTimedOut
		outcome.LastError = err.Error()
		logger.Warn("build job timed out", "error", err)
	default:
		outcome.Status = queue.StatusFailed
		outcome.LastError = err.Error()
		logger.Warn("build job failed", "error", err)
	}

	if err := p.source.Complete(ctx, job.ID, outcome); err != nil {
		logger.Error("failed to complete job", "error", err)
	}
}

func (p *Pool) openJobLog(jobID string, logger *slog.Logger) *os.File {
	if p.opts.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.opts.LogDir, 0o755); err != nil {
		logger.Warn("cannot create job log directory", "dir", p.opts.LogDir, "error", err)
		return nil
	}
	f, err := os.Create(filepath.Join(p.opts.LogDir, jobID+".log"))
	if err != nil {
		logger.Warn("cannot create job log", "error", err)
		return nil
	}
	return f
}
