package workspace

import (
	"context"
	"time"
)

// Workspace is the scratch directory a single build clones into. It is
// created fresh for every job and removed when the job ends.
type Workspace struct {
	JobID string
	Dir   string
}

// CleanupReport summarizes a gc run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager owns the lifecycle of build workspaces under one base directory.
type Manager interface {
	// Create makes an empty workspace for jobID. It fails if one exists.
	Create(ctx context.Context, jobID string) (Workspace, error)

	// Remove deletes the workspace for jobID. Missing workspaces are not an error.
	Remove(ctx context.Context, jobID string) error

	// Cleanup removes workspaces left behind by crashed workers that are
	// older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
