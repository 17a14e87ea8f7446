package build

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/docpush/internal/log"
)

func TestRunCommandCapturesBothStreams(t *testing.T) {
	var out bytes.Buffer
	err := runCommand(context.Background(), command{
		Name: "sh",
		Args: []string{"-c", "echo to-stdout; echo to-stderr 1>&2"},
		Log:  &out,
	}, log.Discard())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "to-stdout")
	assert.Contains(t, out.String(), "to-stderr")
}

func TestRunCommandRunsInDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), command{
		Name: "pwd",
		Dir:  dir,
		Log:  &out,
	}, log.Discard()))
	assert.Contains(t, out.String(), dir)
}

func TestRunCommandNonZeroExit(t *testing.T) {
	err := runCommand(context.Background(), command{
		Name: "sh",
		Args: []string{"-c", "exit 3"},
	}, log.Discard())
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunCommandTimeout(t *testing.T) {
	start := time.Now()
	err := runCommand(context.Background(), command{
		Name:    "sleep",
		Args:    []string{"10"},
		Timeout: 200 * time.Millisecond,
	}, log.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), terminationGracePeriod, "SIGTERM should stop sleep before the grace period")
}

func TestRunCommandMissingBinary(t *testing.T) {
	err := runCommand(context.Background(), command{Name: "docpush-no-such-binary"}, log.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}
