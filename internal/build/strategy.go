package build

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"
)

// Input is what a strategy gets to work with. The cloned sources live at
// WorkDir/RepoName; strategies may write anywhere under WorkDir.
type Input struct {
	WorkDir  string
	RepoName string
	Branch   string
	Log      io.Writer
}

// Result points at the finished site. It is only meaningful when Build
// returned a nil error.
type Result struct {
	SiteDir string
}

// Strategy turns cloned sources into a publishable site.
type Strategy interface {
	Name() string
	Build(ctx context.Context, in Input) (Result, error)
}

// Registry is the fixed set of strategies known to this process.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	return r
}

// Options configures the built-in strategies.
type Options struct {
	MkdocsCommand string
	BuildTimeout  time.Duration
	Logger        *slog.Logger
}

// DefaultRegistry returns the copy and mkdocs strategies.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry(
		CopyStrategy{},
		NewMkdocsStrategy(opts.MkdocsCommand, opts.BuildTimeout, opts.Logger),
	)
}

func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.strategies[name]
	return ok
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
