package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "DOCPUSH_CONFIG"

// Load reads, interpolates, defaults and validates the configuration file at
// configPath. A directory is accepted if it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := resolveSecret(&cfg.Webhook); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file: $DOCPUSH_CONFIG first, then ./config.yaml,
// then ./config.yml.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	for _, candidate := range []string{"./config.yaml", "./config.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ./config.yaml, ./config.yml)", EnvConfigPath)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// applyDefaults restores defaults for fields the file explicitly emptied.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = d.Queue.Backend
	}
	if cfg.Queue.Redis.Key == "" {
		cfg.Queue.Redis.Key = d.Queue.Redis.Key
	}

	w := &cfg.Webhook
	if w.Listen == "" {
		w.Listen = d.Webhook.Listen
	}
	if w.Path == "" {
		w.Path = d.Webhook.Path
	}
	w.SignatureAlgorithm = strings.ToLower(strings.TrimSpace(w.SignatureAlgorithm))
	if w.SignatureAlgorithm == "" {
		w.SignatureAlgorithm = SignatureAlgorithmSHA1
	}
	if w.SignatureHeader == "" {
		if w.SignatureAlgorithm == SignatureAlgorithmSHA2 {
			w.SignatureHeader = DefaultSHA256Header
		} else {
			w.SignatureHeader = DefaultSHA1Header
		}
	}
	if w.EventHeader == "" {
		w.EventHeader = d.Webhook.EventHeader
	}
	if w.GitHubMetaTTL == 0 {
		w.GitHubMetaTTL = d.Webhook.GitHubMetaTTL
	}
	if w.MaxBodySize == 0 {
		w.MaxBodySize = d.Webhook.MaxBodySize
	}

	b := &cfg.Build
	if b.Type == "" {
		b.Type = d.Build.Type
	}
	if b.CloneURL == "" {
		b.CloneURL = d.Build.CloneURL
	}
	if b.GitCommand == "" {
		b.GitCommand = d.Build.GitCommand
	}
	if b.MkdocsCommand == "" {
		b.MkdocsCommand = d.Build.MkdocsCommand
	}
	if b.CloneTimeout == 0 {
		b.CloneTimeout = d.Build.CloneTimeout
	}
	if b.BuildTimeout == 0 {
		b.BuildTimeout = d.Build.BuildTimeout
	}
	if b.WorkspaceDir == "" {
		b.WorkspaceDir = d.Build.WorkspaceDir
	}

	if cfg.Publish.LockDir == "" {
		cfg.Publish.LockDir = d.Publish.LockDir
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = d.Worker.Concurrency
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = d.Worker.PollInterval
	}
	if cfg.Repositories == nil {
		cfg.Repositories = make(Targets)
	}
}

// resolveSecret fills Secret from SecretEnv and rejects placeholders that
// interpolation could not expand.
func resolveSecret(w *WebhookConfig) error {
	if w.Secret == "" && w.SecretEnv != "" {
		w.Secret = os.Getenv(w.SecretEnv)
	}
	if envVarPattern.MatchString(w.Secret) {
		return fmt.Errorf("webhook.secret references an unset environment variable: %s", w.Secret)
	}
	if w.RequireSignature && w.Secret == "" {
		return fmt.Errorf("webhook.require_signature is set but no secret is configured")
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path %q must start with '/'", cfg.Webhook.Path)
	}
	switch cfg.Webhook.SignatureAlgorithm {
	case SignatureAlgorithmSHA1, SignatureAlgorithmSHA2:
	default:
		return fmt.Errorf("webhook.signature_algorithm %q must be sha1 or sha256", cfg.Webhook.SignatureAlgorithm)
	}
	if cfg.Webhook.MaxBodySize < 0 {
		return fmt.Errorf("webhook.max_body_size must be positive")
	}
	if cfg.Webhook.RateLimitPerMin < 0 {
		return fmt.Errorf("webhook.rate_limit_per_min must not be negative")
	}

	switch cfg.Queue.Backend {
	case BackendSQLite:
	case BackendRedis:
		if cfg.Queue.Redis.Addr == "" {
			return fmt.Errorf("queue.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("queue.backend %q must be sqlite or redis", cfg.Queue.Backend)
	}

	if !strings.Contains(cfg.Build.CloneURL, "{repository}") {
		return fmt.Errorf("build.clone_url %q must contain {repository}", cfg.Build.CloneURL)
	}
	if cfg.Build.CloneTimeout < 0 || cfg.Build.BuildTimeout < 0 {
		return fmt.Errorf("build timeouts must be positive")
	}
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if cfg.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}

	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("at least one repository must be configured")
	}
	for _, repo := range cfg.Repositories.Repositories() {
		if strings.Count(repo, "/") != 1 || strings.HasPrefix(repo, "/") || strings.HasSuffix(repo, "/") {
			return fmt.Errorf("repository %q must be of the form owner/name", repo)
		}
		branches := cfg.Repositories[repo]
		if len(branches) == 0 {
			return fmt.Errorf("repository %q has no branches configured", repo)
		}
		for branch, out := range branches {
			if strings.TrimSpace(branch) == "" {
				return fmt.Errorf("repository %q has an empty branch name", repo)
			}
			if strings.TrimSpace(out) == "" {
				return fmt.Errorf("repository %q branch %q has an empty output path", repo, branch)
			}
		}
	}
	return nil
}
