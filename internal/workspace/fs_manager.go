package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fsManager keeps workspaces as subdirectories of baseDir.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager returns a Manager rooted at baseDir. The directory is created
// lazily on first Create.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base directory: %w", err)
	}
	return &fsManager{baseDir: abs, now: time.Now}, nil
}

func (m *fsManager) BaseDir() string { return m.baseDir }

func (m *fsManager) Create(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(jobID)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	// 0700: sources may include private repositories.
	if err := os.Mkdir(path, 0o700); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for job %q: %w", jobID, err)
	}
	return Workspace{JobID: jobID, Dir: path}, nil
}

// Remove ignores ctx cancellation so that a cancelled job still gets cleaned up.
func (m *fsManager) Remove(_ context.Context, jobID string) error {
	path, err := m.workspacePath(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for job %q: %w", jobID, err)
	}
	return nil
}

// Cleanup removes workspace directories whose modification time is older
// than olderThan.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}
	return report, nil
}

func (m *fsManager) workspacePath(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, jobID), nil
}

func validateJobID(jobID string) error {
	trimmed := strings.TrimSpace(jobID)
	switch {
	case trimmed == "":
		return fmt.Errorf("jobID is empty")
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("jobID %q is invalid", jobID)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("jobID %q must not contain path separators", jobID)
	case filepath.Clean(trimmed) != trimmed:
		return fmt.Errorf("jobID %q is invalid", jobID)
	}
	return nil
}
