package webhook

import (
	"time"

	"github.com/mattjoyce/docpush/internal/config"
)

// Config holds webhook server configuration.
type Config struct {
	Listen string
	Path   string

	// Secret enables signature checking when non-empty.
	Secret             string
	SignatureAlgorithm string
	SignatureHeader    string
	EventHeader        string

	// BuildType is the strategy every accepted push is queued with.
	BuildType string

	MaxBodySize       int64
	RateLimitPerMin   int
	VerifyGitHubIP    bool
	TrustProxyHeaders bool
}

// Default values
const (
	DefaultMaxBodySize = config.DefaultMaxBodySize
	shutdownTimeout    = 5 * time.Second
)

// FromGlobalConfig derives the server config from the loaded docpush config.
func FromGlobalConfig(cfg *config.Config) Config {
	wc := cfg.Webhook
	c := Config{
		Listen:             wc.Listen,
		Path:               wc.Path,
		Secret:             wc.Secret,
		SignatureAlgorithm: wc.SignatureAlgorithm,
		SignatureHeader:    wc.SignatureHeader,
		EventHeader:        wc.EventHeader,
		BuildType:          cfg.Build.Type,
		MaxBodySize:        int64(wc.MaxBodySize),
		RateLimitPerMin:    wc.RateLimitPerMin,
		VerifyGitHubIP:     wc.VerifyGitHubIP,
		TrustProxyHeaders:  wc.TrustProxyHeaders,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = config.DefaultWebhookPath
	}
	if c.SignatureAlgorithm == "" {
		c.SignatureAlgorithm = config.SignatureAlgorithmSHA1
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = config.DefaultSHA1Header
		if c.SignatureAlgorithm == config.SignatureAlgorithmSHA2 {
			c.SignatureHeader = config.DefaultSHA256Header
		}
	}
	if c.EventHeader == "" {
		c.EventHeader = config.DefaultEventHeader
	}
	if c.BuildType == "" {
		c.BuildType = config.DefaultBuildType
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
}
