// Package regcache implements a storage and merge core for a package
// registry proxy cache: fusing a local cached manifest with one or more
// upstream registries, streaming tarballs from local storage or
// upstream with write-through caching, and a pluggable local storage
// contract with atomic, lockable read-modify-write semantics.
//
// Routing, authentication/ACL, configuration parsing, logging setup,
// CLI, web UI, search indexing, and the upstream HTTP client's own
// retry/DNS/circuit-breaking internals are out of scope for this
// package; see fetch for the latter, treated here as a black box.
package regcache

import (
	"context"
	"io"
	"regexp"
	"time"

	"github.com/git-pkgs/regcache/facade"
	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/storage"
	"github.com/git-pkgs/regcache/internal/uplink"
)

// Manifest is the canonical per-package document merged from local
// storage and configured uplinks.
type Manifest = core.Manifest

// VersionEntry is a single version's dist-plus-metadata record.
type VersionEntry = core.VersionEntry

// Dist is the tarball locator embedded in a VersionEntry.
type Dist = core.Dist

// Backend is the local storage plugin contract (§4.3).
type Backend = storage.Backend

// Uplink is a configured upstream registry.
type Uplink = uplink.Uplink

// UplinkOption configures an Uplink via NewUplink.
type UplinkOption = uplink.Option

// Facade is the public entry point wrapping a Backend, a set of
// Uplinks, the merge engine, and the tarball pipeline.
type Facade = facade.Facade

// FacadeOption configures a Facade via New.
type FacadeOption = facade.Option

// GetPackageOptions configures GetPackageByOptions.
type GetPackageOptions = facade.GetPackageOptions

// GetTarballOptions configures GetTarball.
type GetTarballOptions = facade.GetTarballOptions

var (
	// ErrNotFound is returned for a missing package, version, or tarball.
	ErrNotFound = core.ErrNotFound
	// ErrConflict is returned when a publish collides with an existing package.
	ErrConflict = core.ErrConflict
	// ErrResourceUnavailable is returned when a storage lock could not be acquired.
	ErrResourceUnavailable = core.ErrResourceUnavailable
	// ErrServiceUnavailable is returned when every relevant uplink failed with a timeout-class error.
	ErrServiceUnavailable = core.ErrServiceUnavailable
)

// NewUplink constructs a configured upstream registry reference.
func NewUplink(name, baseURL string, opts ...UplinkOption) *Uplink {
	return uplink.New(name, baseURL, opts...)
}

// WithAuth attaches an authorization header to every request an Uplink makes.
func WithAuth(header, value string) UplinkOption { return uplink.WithAuth(header, value) }

// WithMaxAge sets how long a cached manifest is served without revalidation.
func WithMaxAge(d time.Duration) UplinkOption { return uplink.WithMaxAge(d) }

// WithCache enables write-through tarball caching for an Uplink.
func WithCache(enabled bool) UplinkOption { return uplink.WithCache(enabled) }

// WithProxyAccess restricts an Uplink to package names matching re.
func WithProxyAccess(re *regexp.Regexp) UplinkOption { return uplink.WithProxyAccess(re) }

// New constructs a Facade over a Backend and its configured Uplinks.
func New(backend Backend, uplinks []*Uplink, opts ...FacadeOption) *Facade {
	return facade.New(backend, uplinks, opts...)
}

// GetPackageByOptions resolves a package's merged manifest, or a single
// version/range/tag within it.
func GetPackageByOptions(ctx context.Context, f *Facade, name string, opts GetPackageOptions) (*Manifest, *VersionEntry, error) {
	return f.GetPackageByOptions(ctx, name, opts)
}

// GetTarball streams a tarball from local storage, or from an uplink
// with write-through caching on a local miss.
func GetTarball(ctx context.Context, f *Facade, name, filename string, opts GetTarballOptions) (io.ReadCloser, error) {
	return f.GetTarball(ctx, name, filename, opts)
}
