package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CopyStrategy publishes the repository contents as they are.
type CopyStrategy struct{}

func (CopyStrategy) Name() string { return "copy" }

func (CopyStrategy) Build(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	src := filepath.Join(in.WorkDir, in.RepoName)
	info, err := os.Stat(src)
	if err != nil {
		return Result{}, fmt.Errorf("copy: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("copy: %s is not a directory", src)
	}
	if in.Log != nil {
		fmt.Fprintf(in.Log, "copy: using %s as site\n", src)
	}
	return Result{SiteDir: src}, nil
}
