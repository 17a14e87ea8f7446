package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/docpush/internal/build"
	"github.com/mattjoyce/docpush/internal/config"
	"github.com/mattjoyce/docpush/internal/dispatch"
	"github.com/mattjoyce/docpush/internal/lock"
	"github.com/mattjoyce/docpush/internal/log"
	"github.com/mattjoyce/docpush/internal/queue"
	"github.com/mattjoyce/docpush/internal/storage"
	"github.com/mattjoyce/docpush/internal/webhook"
	"github.com/mattjoyce/docpush/internal/worker"
	"github.com/mattjoyce/docpush/internal/workspace"
)

const secret = "e2e-secret"

// checkoutCloner stands in for git by copying a prebuilt checkout.
type checkoutCloner struct {
	src string
}

func (c checkoutCloner) Clone(_ context.Context, repository, branch, dest string, out io.Writer) error {
	_, _ = io.WriteString(out, "cloned "+repository+"@"+branch+"\n")
	return filepath.WalkDir(c.src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, b, 0o644)
	})
}

type harness struct {
	handler   http.Handler
	queue     *queue.Queue
	pool      *worker.Pool
	outputDir string
	wsDir     string
}

func newHarness(t *testing.T, buildType string) *harness {
	t.Helper()
	tmp := t.TempDir()
	ctx := context.Background()

	checkout := filepath.Join(tmp, "checkout")
	if err := os.MkdirAll(filepath.Join(checkout, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir checkout: %v", err)
	}
	if err := os.WriteFile(filepath.Join(checkout, "index.html"), []byte("<h1>docs</h1>"), 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}
	if err := os.WriteFile(filepath.Join(checkout, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}

	outputDir := filepath.Join(tmp, "site")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir output: %v", err)
	}
	for _, stale := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(outputDir, stale), []byte(stale), 0o644); err != nil {
			t.Fatalf("write stale file: %v", err)
		}
	}

	db, err := storage.OpenSQLite(ctx, filepath.Join(tmp, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q := queue.New(db)

	wsDir := filepath.Join(tmp, "workspaces")
	ws, err := workspace.NewFSManager(wsDir)
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	locks, err := lock.NewPathLocks(filepath.Join(tmp, "locks"))
	if err != nil {
		t.Fatalf("path locks: %v", err)
	}

	registry := build.DefaultRegistry(build.Options{MkdocsCommand: "mkdocs", BuildTimeout: time.Minute})
	runner := build.NewRunner(ws, checkoutCloner{src: checkout}, registry,
		build.NewPublisher(locks, false, log.WithComponent("publish")))

	targets := config.Targets{"owner/docs": {"main": outputDir}}
	srv := webhook.New(webhook.Config{Secret: secret, BuildType: buildType}, targets,
		dispatch.New(q, registry, "webhook"), nil, log.WithComponent("webhook"))

	return &harness{
		handler:   srv.Handler(),
		queue:     q,
		pool:      worker.New(q, runner, worker.Options{LogDir: filepath.Join(tmp, "logs")}),
		outputDir: outputDir,
		wsDir:     wsDir,
	}
}

func (h *harness) push(t *testing.T, event, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-GitHub-Event", event)
	r.Header.Set("X-Hub-Signature", webhook.Sign("sha1", secret, []byte(body)))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestPushPublishesCopySite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t, "copy")

	w := h.push(t, "push", `{"ref":"refs/heads/main","repository":{"full_name":"owner/docs"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	if want := "Successfully queued copy job for owner/docs, main branch"; w.Body.String() != want {
		t.Fatalf("body = %q, want %q", w.Body.String(), want)
	}

	ran, err := h.pool.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran %d jobs, want 1", ran)
	}

	entries, err := os.ReadDir(h.outputDir)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "index.html" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("output contains %v, want exactly [index.html]", names)
	}
	b, err := os.ReadFile(filepath.Join(h.outputDir, "index.html"))
	if err != nil || string(b) != "<h1>docs</h1>" {
		t.Fatalf("index.html = %q, %v", b, err)
	}

	jobs, err := h.queue.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Status != queue.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (error %v)", job.Status, job.LastError)
	}
	if job.SiteDigest == nil || len(*job.SiteDigest) != 64 {
		t.Fatalf("site digest = %v, want 64 hex chars", job.SiteDigest)
	}
	if job.SubmittedBy != "webhook" {
		t.Fatalf("submitted_by = %q", job.SubmittedBy)
	}

	leftover, err := os.ReadDir(h.wsDir)
	if err != nil {
		t.Fatalf("read workspaces: %v", err)
	}
	if len(leftover) != 0 {
		t.Fatalf("workspace not cleaned up: %d entries", len(leftover))
	}
}

func TestIgnoredPushQueuesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "copy")

	cases := []struct {
		event string
		body  string
		code  int
	}{
		{"issues", `{"ref":"refs/heads/main","repository":{"full_name":"owner/docs"}}`, http.StatusAccepted},
		{"push", `{"ref":"refs/heads/dev","repository":{"full_name":"owner/docs"}}`, http.StatusAccepted},
		{"push", `{"ref":"refs/heads/main","repository":{"full_name":"owner/other"}}`, http.StatusAccepted},
	}
	for _, c := range cases {
		if w := h.push(t, c.event, c.body); w.Code != c.code {
			t.Fatalf("%s %s: status = %d, want %d", c.event, c.body, w.Code, c.code)
		}
	}

	jobs, err := h.queue.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("got %d jobs, want 0", len(jobs))
	}
}

func TestUnknownBuildTypeIsRejectedSynchronously(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "sphinx")

	w := h.push(t, "push", `{"ref":"refs/heads/main","repository":{"full_name":"owner/docs"}}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	jobs, err := h.queue.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("got %d jobs, want 0", len(jobs))
	}

	entries, _ := os.ReadDir(h.outputDir)
	if len(entries) != 2 {
		t.Fatalf("output changed: %d entries", len(entries))
	}
}
