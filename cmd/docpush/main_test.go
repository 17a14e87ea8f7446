package main

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so a chatty command cannot fill the pipe.
	stdoutCh := make(chan string)
	stderrCh := make(chan string)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout := <-stdoutCh
	stderr := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdout, stderr
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return run(args) })
}

// writeConfig creates a config with all state under a temp dir and returns
// its path and the configured output directory.
func writeConfig(t *testing.T, buildType, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "site")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}

	fakeGit := filepath.Join(dir, "fake-git")
	script := `#!/bin/sh
for dest; do :; done
mkdir -p "$dest" && echo "<h1>docs</h1>" > "$dest/index.html"
`
	if err := os.WriteFile(fakeGit, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := `
service:
  log_level: error
state:
  path: ` + filepath.Join(dir, "data", "state.db") + `
webhook:
  secret: hunter2
build:
  type: ` + buildType + `
  git_command: ` + fakeGit + `
  workspace_dir: ` + filepath.Join(dir, "data", "workspaces") + `
publish:
  lock_dir: ` + filepath.Join(dir, "data", "locks") + `
repositories:
  owner/docs:
    main: ` + out + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, out
}

func TestVersionAndHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 || !strings.Contains(stdout, "docpush version "+version) {
		t.Fatalf("version: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCLI(t, "help")
	if code != 0 || !strings.Contains(stdout, "config check") {
		t.Fatalf("help: code=%d stdout=%q", code, stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "deploy")
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: deploy") {
		t.Fatalf("stderr = %q", stderr)
	}

	if code, _, _ := runCLI(t); code != 1 {
		t.Fatalf("no args: code = %d, want 1", code)
	}
}

func TestConfigCheck(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")

	code, stdout, stderr := runCLI(t, "config", "check", "--config", path)
	if code != 0 {
		t.Fatalf("code = %d, stdout=%s stderr=%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestConfigCheckUnknownBuildType(t *testing.T) {
	path, _ := writeConfig(t, "sphinx", "")

	code, stdout, _ := runCLI(t, "config", "check", "--config", path)
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stdout, `ERROR build.type "sphinx"`) {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestConfigCheckMissingOutputIsWarning(t *testing.T) {
	path, out := writeConfig(t, "copy", "")
	if err := os.Remove(out); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := runCLI(t, "config", "check", "--config", path)
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "WARN  owner/docs main") {
		t.Fatalf("stdout = %q", stdout)
	}

	code, _, _ = runCLI(t, "config", "check", "--strict", "--config", path)
	if code != 1 {
		t.Fatalf("strict: code = %d, want 1", code)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")

	code, stdout, stderr := runCLI(t, "config", "show", "--config", path)
	if code != 0 {
		t.Fatalf("code = %d, stderr=%s", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") {
		t.Fatalf("secret leaked: %s", stdout)
	}
	if !strings.Contains(stdout, "owner/docs") {
		t.Fatalf("stdout missing repositories: %s", stdout)
	}
}

func TestRunQueuesJobAndListsIt(t *testing.T) {
	path, out := writeConfig(t, "copy", "")

	code, stdout, stderr := runCLI(t, "run", "--config", path, "owner/docs", "main")
	if code != 0 {
		t.Fatalf("run: code = %d, stderr=%s", code, stderr)
	}
	m := regexp.MustCompile(`Queued copy job ([0-9a-f-]{36}) for owner/docs, main branch -> (.+)\n`).FindStringSubmatch(stdout)
	if m == nil {
		t.Fatalf("stdout = %q", stdout)
	}
	if m[2] != out {
		t.Fatalf("output = %q, want %q", m[2], out)
	}
	jobID := m[1]

	code, stdout, stderr = runCLI(t, "job", "list", "--config", path)
	if code != 0 {
		t.Fatalf("job list: code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, jobID) || !strings.Contains(stdout, "queued") {
		t.Fatalf("job list stdout = %q", stdout)
	}

	code, stdout, stderr = runCLI(t, "job", "show", jobID, "--config", path)
	if code != 0 {
		t.Fatalf("job show: code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Submitted by: cli") {
		t.Fatalf("job show stdout = %q", stdout)
	}

	code, _, stderr = runCLI(t, "job", "show", "--config", path, "no-such-job")
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("missing job: code = %d stderr=%q", code, stderr)
	}
}

func TestRunRejectsUnconfiguredBranch(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")

	code, _, stderr := runCLI(t, "run", "--config", path, "owner/docs", "dev")
	if code != 1 || !strings.Contains(stderr, "not configured") {
		t.Fatalf("code = %d stderr=%q", code, stderr)
	}

	code, _, _ = runCLI(t, "run", "--config", path, "owner/docs")
	if code != 1 {
		t.Fatalf("missing branch arg: code = %d", code)
	}
}

func TestRunUnknownTypeQueuesNothing(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")

	code, _, stderr := runCLI(t, "run", "--config", path, "--type", "sphinx", "owner/docs", "main")
	if code != 1 || !strings.Contains(stderr, "unknown build type") {
		t.Fatalf("code = %d stderr=%q", code, stderr)
	}

	code, stdout, _ := runCLI(t, "job", "list", "--config", path)
	if code != 0 || !strings.Contains(stdout, "No jobs.") {
		t.Fatalf("job list: code = %d stdout=%q", code, stdout)
	}
}

func TestRunSyncPublishesSite(t *testing.T) {
	path, out := writeConfig(t, "copy", "")
	if err := os.WriteFile(filepath.Join(out, "stale.html"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "run", "--sync", "--config", path, "owner/docs", "main")
	if code != 0 {
		t.Fatalf("code = %d stdout=%s stderr=%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "==> done") {
		t.Fatalf("stdout = %q", stdout)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "index.html" {
		t.Fatalf("output entries = %v", entries)
	}
}

func TestGC(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")

	code, stdout, stderr := runCLI(t, "gc", "--config", path, "--older-than", "1h")
	if code != 0 {
		t.Fatalf("code = %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Removed 0 workspace(s)") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestPIDLockPath(t *testing.T) {
	path, _ := writeConfig(t, "copy", "")
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	got := pidLockPath(cfg)
	if filepath.Base(got) != "state.pid" {
		t.Fatalf("pidLockPath = %q", got)
	}
}
