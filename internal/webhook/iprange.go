package webhook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/google/go-github/v61/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
)

// HookRangeSource supplies the address ranges webhook deliveries may come from.
type HookRangeSource interface {
	HookRanges(ctx context.Context) ([]netip.Prefix, error)
}

const metaCacheKey = "hooks"

// GitHubMeta reads the "hooks" ranges from the GitHub meta API and caches
// them for ttl.
type GitHubMeta struct {
	client *github.Client
	cache  *expirable.LRU[string, []netip.Prefix]
}

// NewGitHubMeta builds a meta client. token is optional and only raises the
// API rate limit. baseURL overrides the API root (GitHub Enterprise, tests).
func NewGitHubMeta(token, baseURL string, ttl time.Duration) (*GitHubMeta, error) {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GitHubMeta{
		client: client,
		cache:  expirable.NewLRU[string, []netip.Prefix](1, nil, ttl),
	}, nil
}

func (m *GitHubMeta) HookRanges(ctx context.Context) ([]netip.Prefix, error) {
	if ranges, ok := m.cache.Get(metaCacheKey); ok {
		return ranges, nil
	}

	meta, _, err := m.client.Meta.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch github meta: %w", err)
	}
	ranges := make([]netip.Prefix, 0, len(meta.Hooks))
	for _, cidr := range meta.Hooks {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse hook range %q: %w", cidr, err)
		}
		ranges = append(ranges, p.Masked())
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("github meta returned no hook ranges")
	}
	m.cache.Add(metaCacheKey, ranges)
	return ranges, nil
}

// remoteIP extracts the address from a host:port or bare host string.
func remoteIP(remoteAddr string) (netip.Addr, error) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse remote address %q: %w", remoteAddr, err)
	}
	return addr.Unmap(), nil
}

// addrAllowed reports whether remoteAddr falls in any of ranges.
func addrAllowed(remoteAddr string, ranges []netip.Prefix) bool {
	addr, err := remoteIP(remoteAddr)
	if err != nil {
		return false
	}
	for _, p := range ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
