package config

import (
	"sort"
	"time"
)

// Config represents the complete docpush configuration. It is loaded once at
// process start and passed explicitly to every component.
type Config struct {
	Service      ServiceConfig `yaml:"service"`
	State        StateConfig   `yaml:"state"`
	Queue        QueueConfig   `yaml:"queue"`
	Webhook      WebhookConfig `yaml:"webhook"`
	Build        BuildConfig   `yaml:"build"`
	Publish      PublishConfig `yaml:"publish"`
	Worker       WorkerConfig  `yaml:"worker"`
	Repositories Targets       `yaml:"repositories"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where the sqlite queue and lock files live.
type StateConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend string      `yaml:"backend"` // "sqlite" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis queue backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// WebhookConfig defines the HTTP listener and request validation.
type WebhookConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// Secret is the shared HMAC secret. Empty disables signature verification
	// unless RequireSignature is set, in which case loading fails.
	Secret           string `yaml:"secret"`
	SecretEnv        string `yaml:"secret_env"`
	RequireSignature bool   `yaml:"require_signature"`

	SignatureAlgorithm string `yaml:"signature_algorithm"` // "sha1" or "sha256"
	SignatureHeader    string `yaml:"signature_header"`
	EventHeader        string `yaml:"event_header"`

	VerifyGitHubIP    bool          `yaml:"verify_github_ip"`
	GitHubMetaTTL     time.Duration `yaml:"github_meta_ttl"`
	GitHubToken       string        `yaml:"github_token"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`

	MaxBodySize     ByteSize `yaml:"max_body_size"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// BuildConfig defines how jobs clone and build sites.
type BuildConfig struct {
	Type          string        `yaml:"type"`
	CloneURL      string        `yaml:"clone_url"`
	GitCommand    string        `yaml:"git_command"`
	MkdocsCommand string        `yaml:"mkdocs_command"`
	CloneTimeout  time.Duration `yaml:"clone_timeout"`
	BuildTimeout  time.Duration `yaml:"build_timeout"`
	WorkspaceDir  string        `yaml:"workspace_dir"`
	LogDir        string        `yaml:"log_dir"`
}

// PublishConfig defines how built sites replace the output directory.
type PublishConfig struct {
	// AllowInPlace permits falling back to delete-then-copy when the output
	// directory cannot be swapped by rename.
	AllowInPlace *bool  `yaml:"allow_in_place"`
	LockDir      string `yaml:"lock_dir"`
}

// InPlaceAllowed reports the effective allow_in_place value (default true).
func (p PublishConfig) InPlaceAllowed() bool {
	return p.AllowInPlace == nil || *p.AllowInPlace
}

// WorkerConfig defines the build worker pool.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Targets maps repository full name -> branch -> output directory.
type Targets map[string]map[string]string

// Branches returns the configured branches for repository.
func (t Targets) Branches(repository string) (map[string]string, bool) {
	branches, ok := t[repository]
	return branches, ok
}

// Lookup returns the output path for repository and branch.
func (t Targets) Lookup(repository, branch string) (string, bool) {
	branches, ok := t[repository]
	if !ok {
		return "", false
	}
	out, ok := branches[branch]
	return out, ok
}

// Repositories returns the configured repository names, sorted.
func (t Targets) Repositories() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default values
const (
	DefaultWebhookPath     = "/"
	DefaultListen          = "127.0.0.1:5000"
	DefaultBuildType       = "mkdocs"
	DefaultCloneURL        = "https://github.com/{repository}.git"
	DefaultEventHeader     = "X-GitHub-Event"
	DefaultSHA1Header      = "X-Hub-Signature"
	DefaultSHA256Header    = "X-Hub-Signature-256"
	DefaultMaxBodySize     = 1024 * 1024
	DefaultRedisKey        = "docpush:jobs"
	BackendSQLite          = "sqlite"
	BackendRedis           = "redis"
	SignatureAlgorithmSHA1 = "sha1"
	SignatureAlgorithmSHA2 = "sha256"
)

// Defaults returns a Config with every optional field populated.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "docpush",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Queue: QueueConfig{
			Backend: BackendSQLite,
			Redis:   RedisConfig{Key: DefaultRedisKey},
		},
		Webhook: WebhookConfig{
			Listen:             DefaultListen,
			Path:               DefaultWebhookPath,
			SignatureAlgorithm: SignatureAlgorithmSHA1,
			EventHeader:        DefaultEventHeader,
			GitHubMetaTTL:      time.Hour,
			MaxBodySize:        DefaultMaxBodySize,
		},
		Build: BuildConfig{
			Type:          DefaultBuildType,
			CloneURL:      DefaultCloneURL,
			GitCommand:    "git",
			MkdocsCommand: "mkdocs",
			CloneTimeout:  10 * time.Minute,
			BuildTimeout:  20 * time.Minute,
			WorkspaceDir:  "./data/workspaces",
		},
		Publish: PublishConfig{
			LockDir: "./data/locks",
		},
		Worker: WorkerConfig{
			Concurrency:  1,
			PollInterval: time.Second,
		},
		Repositories: make(Targets),
	}
}
