// Package facade implements the Storage Facade (SPEC_FULL.md §4.1): the
// public surface a routing layer calls into. It owns no I/O of its own
// beyond parameter validation — every operation delegates to the
// storage.Backend, the merge.Engine, or the tarball.Pipeline.
package facade

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/git-pkgs/vers"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/merge"
	"github.com/git-pkgs/regcache/internal/storage"
	"github.com/git-pkgs/regcache/internal/tarball"
	"github.com/git-pkgs/regcache/internal/uplink"
)

// Facade is the entry point a routing layer holds one instance of,
// constructed once at startup from config per §9's "treat as an
// immutable-after-init dependency".
type Facade struct {
	backend     storage.Backend
	engine      *merge.Engine
	pipeline    *tarball.Pipeline
	prefix      string
	logger      *slog.Logger
	concurrency int
}

// Option configures a Facade.
type Option func(*Facade)

// WithTarballPrefix sets the host-facing URL prefix used to rewrite
// dist.tarball URLs on read, per §6.
func WithTarballPrefix(prefix string) Option {
	return func(f *Facade) { f.prefix = prefix }
}

// WithLogger attaches structured logging, defaulting to a discard
// handler when unset.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithConcurrency bounds the merge engine's per-call uplink fan-out.
func WithConcurrency(n int) Option {
	return func(f *Facade) { f.concurrency = n }
}

// New constructs a Facade over backend and the configured uplinks.
func New(backend storage.Backend, uplinks []*uplink.Uplink, opts ...Option) *Facade {
	f := &Facade{
		backend: backend,
		prefix:  "",
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	mergeOpts := []merge.Option{merge.WithLogger(f.logger)}
	if f.concurrency > 0 {
		mergeOpts = append(mergeOpts, merge.WithConcurrency(f.concurrency))
	}
	f.engine = merge.New(backend, uplinks, mergeOpts...)
	f.pipeline = tarball.New(backend, uplinks, tarball.WithLogger(f.logger))
	return f
}

// GetPackageByOptions implements §4.1's getPackageByOptions: the full
// merged manifest, or a single resolved version when opts selects one.
// Every returned dist.tarball URL is rewritten per §6.
func (f *Facade) GetPackageByOptions(ctx context.Context, name string, opts GetPackageOptions) (*core.Manifest, *core.VersionEntry, error) {
	m, _, err := f.engine.Merge(ctx, name, merge.Options{
		UplinksLook:   opts.UplinksLook,
		RemoteAddress: opts.RemoteAddress,
	})
	if err != nil {
		return nil, nil, err
	}

	f.rewriteTarballURLs(m)

	switch {
	case opts.Version != "":
		entry, ok := m.Versions[opts.Version]
		if !ok {
			return nil, nil, &core.NotFoundError{Package: name, Version: opts.Version}
		}
		return nil, entry, nil

	case opts.VersionRange != "":
		_, entry, err := resolveRange(m, opts.VersionRange)
		if err != nil {
			return nil, nil, &core.NotFoundError{Package: name, Version: opts.VersionRange}
		}
		return nil, entry, nil

	case opts.Tag != "":
		version, ok := m.DistTags[opts.Tag]
		if !ok {
			return nil, nil, &core.NotFoundError{Package: name, Version: opts.Tag}
		}
		entry, ok := m.Versions[version]
		if !ok {
			return nil, nil, &core.NotFoundError{Package: name, Version: version}
		}
		return nil, entry, nil

	default:
		return m, nil, nil
	}
}

// resolveRange picks the highest version in m.Versions contained by
// rangeExpr — the §4.4 [SUPPLEMENT] range-resolution feature. It
// matches against the already-merged version set, so "local wins, else
// adopt remote" is respected by construction: the set being searched is
// the post-merge set, not either side alone.
//
// github.com/git-pkgs/vers is the teacher's indirect dependency that
// implements the package-url "vers" range grammar companion to purl;
// promoted to direct use here since nothing else in the merged pipeline
// needed range containment.
func resolveRange(m *core.Manifest, rangeExpr string) (string, *core.VersionEntry, error) {
	rng, err := vers.Parse(rangeExpr)
	if err != nil {
		return "", nil, fmt.Errorf("parsing version range %q: %w", rangeExpr, err)
	}

	var best string
	for v := range m.Versions {
		if !rng.Contains(v) {
			continue
		}
		if best == "" || core.CompareSemver(v, best) > 0 {
			best = v
		}
	}
	if best == "" {
		return "", nil, core.ErrNotFound
	}
	return best, m.Versions[best], nil
}

// rewriteTarballURLs applies §6's URL rewrite to every version in m,
// in place. _distfiles entries are left pointing at the original
// upstream URL.
func (f *Facade) rewriteTarballURLs(m *core.Manifest) {
	for _, entry := range m.Versions {
		filename := core.FilenameFromURL(entry.Dist.Tarball)
		if filename == "" {
			continue
		}
		entry.Dist.Tarball = core.RewriteTarballURL(f.prefix, m.Name, filename)
	}
}

// GetTarball implements §4.1's getTarball. opts.Cancel, if set, is
// merged into ctx by the caller before this is invoked; the pipeline
// itself observes a single context for the whole streamed read.
func (f *Facade) GetTarball(ctx context.Context, name, filename string, opts GetTarballOptions) (io.ReadCloser, error) {
	return f.pipeline.GetTarball(ctx, name, filename, tarball.Options{EnableRemote: opts.EnableRemote})
}

// AddPackage implements §4.1's addPackage: the publish-gate check,
// then an atomic create-if-absent.
func (f *Facade) AddPackage(ctx context.Context, name string, m *core.Manifest, offlinePublish bool) (*core.Manifest, error) {
	if err := f.engine.CheckPublishGate(ctx, name, offlinePublish); err != nil {
		return nil, err
	}
	if err := f.backend.CreatePackage(ctx, name, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddVersion delegates to the backend's read-modify-write cycle,
// inserting or overwriting a single version entry.
func (f *Facade) AddVersion(ctx context.Context, name, version string, entry *core.VersionEntry) error {
	return f.backend.UpdatePackage(ctx, name, func(m *core.Manifest) error {
		m.Versions[version] = entry
		m.Time[version] = time.Now().UTC().Format(time.RFC3339)
		return nil
	})
}

// ChangePackage overwrites a manifest wholesale under the storage
// lock, checking the caller-supplied revision against what's stored —
// the §3 "_rev: opaque revision string used by change-package
// operations" contract.
func (f *Facade) ChangePackage(ctx context.Context, name string, updated *core.Manifest, expectedRev string) error {
	return f.backend.UpdatePackage(ctx, name, func(m *core.Manifest) error {
		if expectedRev != "" && m.Rev != "" && m.Rev != expectedRev {
			return &core.ConflictError{Package: name, Reason: "revision mismatch"}
		}
		*m = *updated
		return nil
	})
}

// RemoveTarball delegates to the backend.
func (f *Facade) RemoveTarball(ctx context.Context, name, filename string) error {
	return f.backend.RemoveTarball(ctx, name, filename)
}

// RemovePackage delegates to the backend's cascading removal.
func (f *Facade) RemovePackage(ctx context.Context, name string) error {
	return f.backend.RemovePackage(ctx, name)
}
