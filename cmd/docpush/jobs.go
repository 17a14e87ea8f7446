package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/docpush/internal/build"
	"github.com/mattjoyce/docpush/internal/config"
	"github.com/mattjoyce/docpush/internal/dispatch"
	"github.com/mattjoyce/docpush/internal/queue"
	"github.com/mattjoyce/docpush/internal/storage"
	"github.com/mattjoyce/docpush/internal/workspace"
)

// runBuild queues (or with --sync, directly runs) one build for a
// configured repository and branch.
func runBuild(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	buildType := fs.String("type", "", "Build type (default: build.type)")
	output := fs.String("output", "", "Output directory (default: the configured one)")
	foreground := fs.Bool("sync", false, "Build in the foreground instead of queueing")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: docpush run [--config path] [--type t] [--output dir] [--sync] <owner/repo> <branch>")
		return 1
	}
	repo, branch := fs.Arg(0), fs.Arg(1)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	outputPath := *output
	if outputPath == "" {
		p, ok := cfg.Repositories.Lookup(repo, branch)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s %s is not configured; pass --output\n", repo, branch)
			return 1
		}
		outputPath = p
	}
	if *buildType == "" {
		*buildType = cfg.Build.Type
	}

	ctx := context.Background()
	registry := newRegistry(cfg)

	if *foreground {
		if !registry.Has(*buildType) {
			fmt.Fprintf(os.Stderr, "Unknown build type %q\n", *buildType)
			return 1
		}
		runner, err := newRunner(cfg, registry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize build runner: %v\n", err)
			return 1
		}
		job := queue.JobDescriptor{
			ID:         "cli-" + uuid.NewString(),
			Repository: repo,
			Branch:     branch,
			OutputPath: outputPath,
			BuildType:  *buildType,
		}
		if _, err := runner.Run(ctx, job, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			return 1
		}
		return 0
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job queue: %v\n", err)
		return 1
	}
	defer closeStore()

	jobID, err := dispatch.New(store, registry, "cli").Dispatch(ctx, *buildType, repo, branch, outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to queue build: %v\n", err)
		return 1
	}
	fmt.Printf("Queued %s job %s for %s, %s branch -> %s\n", *buildType, jobID, repo, branch, outputPath)
	return 0
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "list":
		return runJobList(args[1:])
	case "show", "inspect":
		return runJobShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", args[0])
		return 1
	}
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docpush job <action>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list [--limit N]   Show recent jobs, newest first")
	fmt.Fprintln(w, "  show <id>          Show one job with its build log")
}

func runJobList(args []string) int {
	fs := flag.NewFlagSet("job list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of jobs")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job queue: %v\n", err)
		return 1
	}
	defer closeStore()

	jobs, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list jobs: %v\n", err)
		return 1
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return 0
	}

	fmt.Printf("%-36s  %-10s  %-8s  %-20s  %s\n", "ID", "STATUS", "TYPE", "CREATED", "TARGET")
	for _, j := range jobs {
		fmt.Printf("%-36s  %-10s  %-8s  %-20s  %s@%s\n",
			j.ID, j.Status, j.BuildType, j.CreatedAt.Local().Format("2006-01-02 15:04:05"), j.Repository, j.Branch)
	}
	return 0
}

func runJobShow(args []string) int {
	// Accept flags on either side of the job id.
	var jobID string
	var flagArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			flagArgs = append(flagArgs, arg)
			if i+1 < len(args) {
				flagArgs = append(flagArgs, args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "-"):
			flagArgs = append(flagArgs, arg)
		case jobID == "":
			jobID = arg
		}
	}

	fs := flag.NewFlagSet("job show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: docpush job show <id> [--config path]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job queue: %v\n", err)
		return 1
	}
	defer closeStore()

	j, err := store.Get(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		fmt.Fprintf(os.Stderr, "Job %s not found\n", jobID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load job: %v\n", err)
		return 1
	}

	fmt.Printf("ID:           %s\n", j.ID)
	fmt.Printf("Status:       %s\n", j.Status)
	fmt.Printf("Repository:   %s\n", j.Repository)
	fmt.Printf("Branch:       %s\n", j.Branch)
	fmt.Printf("Build type:   %s\n", j.BuildType)
	fmt.Printf("Output:       %s\n", j.OutputPath)
	fmt.Printf("Submitted by: %s\n", j.SubmittedBy)
	fmt.Printf("Created:      %s\n", j.CreatedAt.Local().Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Printf("Started:      %s\n", j.StartedAt.Local().Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Printf("Completed:    %s\n", j.CompletedAt.Local().Format(time.RFC3339))
	}
	if j.SiteDigest != nil {
		fmt.Printf("Site digest:  %s\n", *j.SiteDigest)
	}
	if j.LastError != nil {
		fmt.Printf("Error:        %s\n", *j.LastError)
	}

	buildLog, err := store.BuildLog(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load build log: %v\n", err)
		return 1
	}
	if buildLog != "" {
		fmt.Printf("\n--- build log ---\n%s", buildLog)
		if !strings.HasSuffix(buildLog, "\n") {
			fmt.Println()
		}
	}
	return 0
}

func runGC(args []string) int {
	fs := flag.NewFlagSet("gc", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	olderThan := fs.Duration("older-than", 24*time.Hour, "Only remove workspaces older than this")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ws, err := workspace.NewFSManager(cfg.Build.WorkspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open workspaces: %v\n", err)
		return 1
	}
	report, err := ws.Cleanup(context.Background(), *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		return 1
	}
	fmt.Printf("Removed %d workspace(s) older than %s from %s\n", report.DeletedDirs, *olderThan, ws.BaseDir())
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "show":
		return runConfigShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docpush config <action>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  check   Validate configuration, build type and external tools")
	fmt.Fprintln(w, "  show    Print the effective configuration (secrets redacted)")
}

// runConfigCheck fails on errors and reports warnings for things that only
// matter once a build runs.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var errs, warnings []string
	if err := checkBuildType(cfg, newRegistry(cfg)); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := exec.LookPath(cfg.Build.GitCommand); err != nil {
		warnings = append(warnings, fmt.Sprintf("git command %q not found", cfg.Build.GitCommand))
	}
	if cfg.Build.Type == "mkdocs" {
		if fields := strings.Fields(cfg.Build.MkdocsCommand); len(fields) > 0 {
			if _, err := exec.LookPath(fields[0]); err != nil {
				warnings = append(warnings, fmt.Sprintf("mkdocs command %q not found", fields[0]))
			}
		}
	}
	if cfg.Queue.Backend == config.BackendSQLite {
		if err := storage.RequireLocalFilesystem(cfg.State.Path); err != nil {
			errs = append(errs, "state.path: "+err.Error())
		}
	}
	if err := storage.RequireLocalFilesystem(cfg.Publish.LockDir); err != nil {
		errs = append(errs, "publish.lock_dir: "+err.Error())
	}
	if cfg.Webhook.Secret == "" {
		warnings = append(warnings, "webhook.secret is empty; signatures will not be verified")
	}

	publisher := build.NewPublisher(nil, cfg.Publish.InPlaceAllowed(), nil)
	for _, repo := range cfg.Repositories.Repositories() {
		for branch, out := range cfg.Repositories[repo] {
			if _, err := publisher.CheckOutput(out); err != nil {
				warnings = append(warnings, fmt.Sprintf("%s %s: %v", repo, branch, err))
			}
		}
	}

	for _, w := range warnings {
		fmt.Printf("WARN  %s\n", w)
	}
	for _, e := range errs {
		fmt.Printf("ERROR %s\n", e)
	}
	if len(errs) > 0 || (*strict && len(warnings) > 0) {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %s\n", path)
		return 1
	}
	fmt.Printf("Configuration valid: %s\n", path)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	shown := *cfg
	shown.Webhook.Secret = redact(shown.Webhook.Secret)
	shown.Webhook.GitHubToken = redact(shown.Webhook.GitHubToken)
	shown.Queue.Redis.Password = redact(shown.Queue.Redis.Password)

	out, err := yaml.Marshal(&shown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode config: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
