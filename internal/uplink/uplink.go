// Package uplink implements the Uplink Proxy (SPEC_FULL.md §4.2): the
// per-upstream-registry transport that the merge engine and tarball
// pipeline fetch through. It wraps fetch.Fetcher with per-uplink
// circuit breaking and the conditional-GET/etag bookkeeping a merge
// needs, the same way fetch/circuit_breaker.go wraps fetch/fetcher.go,
// but keyed by configured uplink identity instead of URL host.
package uplink

import (
	"net/http"
	"regexp"
	"time"

	"github.com/git-pkgs/regcache/fetch"
)

// Uplink is one configured upstream registry.
type Uplink struct {
	Name         string
	BaseURL      string
	AuthHeader   string
	AuthValue    string
	MaxAge       time.Duration
	CacheEnabled bool
	ProxyAccess  *regexp.Regexp // nil means "match every package"

	cb         *fetch.CircuitBreakerFetcher
	httpClient *http.Client
}

// Option configures an Uplink, following fetch.Option/client.Option.
type Option func(*Uplink)

// WithAuth sets a static header sent with every outbound request.
func WithAuth(header, value string) Option {
	return func(u *Uplink) {
		u.AuthHeader = header
		u.AuthValue = value
	}
}

// WithMaxAge sets the freshness window used by §4.4 step 2.a.
func WithMaxAge(d time.Duration) Option {
	return func(u *Uplink) {
		u.MaxAge = d
	}
}

// WithCache enables write-through tarball caching for this uplink.
func WithCache(enabled bool) Option {
	return func(u *Uplink) {
		u.CacheEnabled = enabled
	}
}

// WithProxyAccess restricts which package names this uplink is
// consulted for. A nil regexp (the default) matches every name.
func WithProxyAccess(re *regexp.Regexp) Option {
	return func(u *Uplink) {
		u.ProxyAccess = re
	}
}

// WithHTTPClient overrides the transport's underlying *http.Client,
// mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uplink) {
		u.httpClient = c
	}
}

// New constructs an Uplink bound to baseURL, with a fresh DNS-caching
// fetcher and circuit breaker keyed on name.
func New(name, baseURL string, opts ...Option) *Uplink {
	u := &Uplink{
		Name:         name,
		BaseURL:      baseURL,
		MaxAge:       2 * time.Minute,
		CacheEnabled: true,
	}
	for _, opt := range opts {
		opt(u)
	}

	fetcherOpts := []fetch.Option{
		fetch.WithUserAgent("regcache/1.0"),
		fetch.WithAuthFunc(func(string) (string, string) {
			return u.AuthHeader, u.AuthValue
		}),
	}
	if u.httpClient != nil {
		fetcherOpts = append(fetcherOpts, fetch.WithHTTPClient(u.httpClient))
	}
	u.cb = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(fetcherOpts...))
	return u
}

// Allows reports whether this uplink is configured to serve name, per
// §4.4 step 2's "uplinks whose proxy_access pattern matches the
// package name".
func (u *Uplink) Allows(name string) bool {
	if u.ProxyAccess == nil {
		return true
	}
	return u.ProxyAccess.MatchString(name)
}

