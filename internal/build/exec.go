package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 5 * time.Second

// command is one external process invocation.
type command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	Log     io.Writer
}

// runCommand runs c to completion. Stdout and stderr both go to c.Log. When
// the timeout expires the process gets SIGTERM, then SIGKILL after the grace
// period, and the returned error wraps context.DeadlineExceeded.
func runCommand(ctx context.Context, c command, logger *slog.Logger) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	out := c.Log
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		logger.Warn("command deadline reached, sending SIGTERM", "command", c.Name, "timeout", c.Timeout)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminationGracePeriod

	logger.Debug("running command", "command", c.Name, "args", c.Args, "dir", c.Dir)
	start := time.Now()
	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %v: %w", c.Name, c.Timeout, context.DeadlineExceeded)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d: %w", c.Name, exitErr.ExitCode(), err)
		}
		return fmt.Errorf("run %s: %w", c.Name, err)
	}
	logger.Debug("command finished", "command", c.Name, "duration", time.Since(start))
	return nil
}
