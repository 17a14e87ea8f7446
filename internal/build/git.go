package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/docpush/internal/log"
)

// Cloner fetches a single branch of a repository into dest.
type Cloner interface {
	Clone(ctx context.Context, repository, branch, dest string, out io.Writer) error
}

// GitCloner shells out to git.
type GitCloner struct {
	Command     string
	URLTemplate string // "{repository}" is replaced with the full name
	Timeout     time.Duration
	logger      *slog.Logger
}

var _ Cloner = (*GitCloner)(nil)

func NewGitCloner(command, urlTemplate string, timeout time.Duration) *GitCloner {
	if command == "" {
		command = "git"
	}
	return &GitCloner{
		Command:     command,
		URLTemplate: urlTemplate,
		Timeout:     timeout,
		logger:      log.WithComponent("git"),
	}
}

// URL expands the clone URL template for repository.
func (g *GitCloner) URL(repository string) string {
	return strings.ReplaceAll(g.URLTemplate, "{repository}", repository)
}

// Clone runs `git clone --recursive --branch <branch> -- <url> <dest>`.
func (g *GitCloner) Clone(ctx context.Context, repository, branch, dest string, out io.Writer) error {
	if repository == "" || branch == "" {
		return fmt.Errorf("repository and branch are required")
	}
	err := runCommand(ctx, command{
		Name:    g.Command,
		Args:    []string{"clone", "--recursive", "--branch", branch, "--", g.URL(repository), dest},
		Env:     append(os.Environ(), "GIT_TERMINAL_PROMPT=0"),
		Timeout: g.Timeout,
		Log:     out,
	}, g.logger.With("repository", repository, "branch", branch))
	if err != nil {
		return fmt.Errorf("clone %s@%s: %w", repository, branch, err)
	}
	return nil
}
