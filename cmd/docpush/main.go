package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

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

const version = "0.1.0"

func main() {
	// A missing .env is normal; secrets may come from the real environment.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "start", "serve":
		return runStart(rest)
	case "worker":
		return runWorker(rest)
	case "run":
		return runBuild(rest)
	case "job":
		return runJobNoun(rest)
	case "gc":
		return runGC(rest)
	case "config":
		return runConfigNoun(rest)
	case "version":
		fmt.Printf("docpush version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `docpush - build and publish documentation sites on git push

Usage:
  docpush <command> [flags]

Service:
  start               Serve webhooks and run build workers (alias: serve)
  worker              Run build workers only

Operations:
  run <repo> <branch> Queue a build by hand (--sync builds in the foreground)
  job list            Show recent jobs
  job show <id>       Show one job with its build log
  gc                  Remove workspaces left behind by crashed workers

Config:
  config check        Validate configuration and build tooling
  config show         Print the effective configuration

General:
  version             Show version information
  help                Show this help message

Every command accepts --config <path>. Without it docpush reads
$DOCPUSH_CONFIG, then ./config.yaml.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// jobStore is what the CLI needs from a queue backend.
type jobStore interface {
	dispatch.Enqueuer
	worker.Source
	Get(ctx context.Context, jobID string) (*queue.Job, error)
	Recent(ctx context.Context, limit int) ([]*queue.Job, error)
	BuildLog(ctx context.Context, jobID string) (string, error)
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

// loadConfig resolves and loads the configuration. Logs go to stderr so
// command output on stdout stays clean.
func loadConfig(path string) (*config.Config, string, error) {
	path, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to discover config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, path, nil
}

func newRegistry(cfg *config.Config) *build.Registry {
	return build.DefaultRegistry(build.Options{
		MkdocsCommand: cfg.Build.MkdocsCommand,
		BuildTimeout:  cfg.Build.BuildTimeout,
		Logger:        log.WithComponent("build"),
	})
}

func checkBuildType(cfg *config.Config, registry *build.Registry) error {
	if !registry.Has(cfg.Build.Type) {
		return fmt.Errorf("build.type %q is not one of %s", cfg.Build.Type, strings.Join(registry.Names(), ", "))
	}
	return nil
}

// openStore opens the configured queue backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (jobStore, func(), error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		rc := cfg.Queue.Redis
		q, err := queue.NewRedis(ctx, queue.RedisOptions{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Key:      rc.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, nil, err
		}
		return queue.New(db), func() { _ = db.Close() }, nil
	}
}

func newRunner(cfg *config.Config, registry *build.Registry) (*build.Runner, error) {
	ws, err := workspace.NewFSManager(cfg.Build.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if err := storage.RequireLocalFilesystem(cfg.Publish.LockDir); err != nil {
		return nil, fmt.Errorf("publish.lock_dir: %w", err)
	}
	locks, err := lock.NewPathLocks(cfg.Publish.LockDir)
	if err != nil {
		return nil, err
	}
	cloner := build.NewGitCloner(cfg.Build.GitCommand, cfg.Build.CloneURL, cfg.Build.CloneTimeout)
	publisher := build.NewPublisher(locks, cfg.Publish.InPlaceAllowed(), log.WithComponent("publish"))
	return build.NewRunner(ws, cloner, registry, publisher), nil
}

func newPool(cfg *config.Config, store jobStore, runner *build.Runner) *worker.Pool {
	return worker.New(store, runner, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		LogDir:       cfg.Build.LogDir,
	})
}

func pidLockPath(cfg *config.Config) string {
	base := filepath.Base(cfg.State.Path)
	return filepath.Join(filepath.Dir(cfg.State.Path), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	noWorker := fs.Bool("no-worker", false, "Serve webhooks only; run jobs with a separate 'docpush worker'")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return serve(*configPath, true, !*noWorker)
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return serve(*configPath, false, true)
}

// serve runs the webhook server and/or the worker pool until SIGINT/SIGTERM.
func serve(configPath string, withWebhook, withWorkers bool) int {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("docpush starting", "version", version, "config", path,
		"webhook", withWebhook, "workers", withWorkers, "queue", cfg.Queue.Backend)

	registry := newRegistry(cfg)
	if err := checkBuildType(cfg, registry); err != nil {
		logger.Error("invalid build type", "error", err)
		return 1
	}

	// The sqlite queue is single-host; one docpush per state file.
	if cfg.Queue.Backend == config.BackendSQLite {
		pidLock, err := lock.AcquirePIDLock(pidLockPath(cfg))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath(cfg), "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open job queue", "backend", cfg.Queue.Backend, "error", err)
		return 1
	}
	defer closeStore()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	running := 0

	if withWorkers {
		runner, err := newRunner(cfg, registry)
		if err != nil {
			logger.Error("failed to initialize build runner", "error", err)
			return 1
		}
		pool := newPool(cfg, store, runner)
		running++
		go func() { errCh <- pool.Start(ctx) }()
	}

	if withWebhook {
		var ranges webhook.HookRangeSource
		if cfg.Webhook.VerifyGitHubIP {
			meta, err := webhook.NewGitHubMeta(cfg.Webhook.GitHubToken, "", cfg.Webhook.GitHubMetaTTL)
			if err != nil {
				logger.Error("failed to configure github meta client", "error", err)
				return 1
			}
			ranges = meta
		}
		if cfg.Webhook.Secret == "" {
			logger.Warn("no webhook secret configured; signatures are not verified")
		}
		disp := dispatch.New(store, registry, "webhook")
		srv := webhook.New(webhook.FromGlobalConfig(cfg), cfg.Repositories, disp, ranges, log.WithComponent("webhook"))
		running++
		go func() { errCh <- srv.Start(ctx) }()
	}

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		running--
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("component failed", "error", err)
			exit = 1
		}
	}
	cancel()

	for ; running > 0; running-- {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("component failed during shutdown", "error", err)
			exit = 1
		}
	}
	logger.Info("docpush stopped")
	return exit
}
