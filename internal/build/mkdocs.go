package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/docpush/internal/log"
)

// MkdocsStrategy runs `<command> build -d <site>` inside the clone, where
// <site> is a fresh directory under the workdir.
type MkdocsStrategy struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewMkdocsStrategy accepts a command line such as "mkdocs" or
// "python3 -m mkdocs".
func NewMkdocsStrategy(commandLine string, timeout time.Duration, logger *slog.Logger) *MkdocsStrategy {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		fields = []string{"mkdocs"}
	}
	if logger == nil {
		logger = log.WithComponent("mkdocs")
	}
	return &MkdocsStrategy{command: fields, timeout: timeout, logger: logger}
}

func (m *MkdocsStrategy) Name() string { return "mkdocs" }

func (m *MkdocsStrategy) Build(ctx context.Context, in Input) (Result, error) {
	// A fixed name could be the checkout itself (owner/site).
	site, err := os.MkdirTemp(in.WorkDir, "site-")
	if err != nil {
		return Result{}, fmt.Errorf("mkdocs build: create site directory: %w", err)
	}
	args := append(append([]string{}, m.command[1:]...), "build", "-d", site)

	err = runCommand(ctx, command{
		Name:    m.command[0],
		Args:    args,
		Dir:     filepath.Join(in.WorkDir, in.RepoName),
		Timeout: m.timeout,
		Log:     in.Log,
	}, m.logger)
	if err != nil {
		return Result{}, fmt.Errorf("mkdocs build: %w", err)
	}

	entries, err := os.ReadDir(site)
	if err != nil {
		return Result{}, fmt.Errorf("mkdocs build: read site: %w", err)
	}
	if len(entries) == 0 {
		return Result{}, fmt.Errorf("mkdocs build produced no site in %s", site)
	}
	return Result{SiteDir: site}, nil
}
