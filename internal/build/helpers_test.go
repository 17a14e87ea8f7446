package build

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTree creates files (relative path -> content) under dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// readTree returns every regular file under dir keyed by slash path.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(dir, path)
			got[filepath.ToSlash(rel)] = string(b)
		}
		return nil
	})
	require.NoError(t, err)
	return got
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// fakeCloner writes a fixed tree instead of running git.
type fakeCloner struct {
	mu    sync.Mutex
	files map[string]string
	err   error
	calls int
	dests []string
}

func (f *fakeCloner) Clone(_ context.Context, _, _, dest string, out io.Writer) error {
	f.mu.Lock()
	f.calls++
	f.dests = append(f.dests, dest)
	f.mu.Unlock()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if f.err != nil {
		// Leave a partial clone behind, as git does.
		_ = os.WriteFile(filepath.Join(dest, "partial"), []byte("x"), 0o644)
		_, _ = io.WriteString(out, "fatal: could not read from remote repository\n")
		return f.err
	}
	for rel, content := range f.files {
		p := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// failingStrategy always fails after writing into the workspace.
type failingStrategy struct{ name string }

func (s failingStrategy) Name() string { return s.name }

func (s failingStrategy) Build(_ context.Context, in Input) (Result, error) {
	_ = os.MkdirAll(filepath.Join(in.WorkDir, "site"), 0o755)
	return Result{}, errBuildBroken
}

var errBuildBroken = errors.New("mkdocs.yml: invalid configuration")

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}
