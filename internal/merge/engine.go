// Package merge implements the Merge Engine (SPEC_FULL.md §4.4): it
// fuses a locally cached manifest with responses fanned out across
// configured uplinks, applies filters, and persists the result.
package merge

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/filter"
	"github.com/git-pkgs/regcache/internal/storage"
	"github.com/git-pkgs/regcache/internal/uplink"
)

// Options configures one Merge call, the §4.4 input struct
// {uplinksLook, remoteAddress}. There is no etag field: each uplink's
// conditional GET uses the etag stored in the manifest's _uplinks.
type Options struct {
	UplinksLook   bool
	RemoteAddress string
}

// Engine fuses local storage with a configured set of uplinks. One
// Engine is constructed per facade, sharing the uplink table across
// requests per §9's "treat as an immutable-after-init dependency".
type Engine struct {
	backend     storage.Backend
	uplinks     []*uplink.Uplink
	concurrency int
	logger      *slog.Logger
}

// Option configures an Engine, following fetch.Option/client.Option.
type Option func(*Engine)

// WithConcurrency bounds how many uplinks are fetched in parallel per
// merge call (golang.org/x/sync/errgroup.SetLimit), generalizing the
// semaphore pattern the teacher's internal/core/helpers.go hand-rolled
// for its own bulk-fetch helpers.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithLogger attaches structured logging, defaulting to a discard
// handler when unset.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine over backend and uplinks, in configured
// order (tie-break policy: "the first to merge wins", §4.4).
func New(backend storage.Backend, uplinks []*uplink.Uplink, opts ...Option) *Engine {
	e := &Engine{
		backend:     backend,
		uplinks:     uplinks,
		concurrency: 8,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// selectUplinks returns the configured uplinks whose proxy-access
// pattern matches name, in configured order (§4.4 step 1).
func (e *Engine) selectUplinks(name string) []*uplink.Uplink {
	var selected []*uplink.Uplink
	for _, u := range e.uplinks {
		if u.Allows(name) {
			selected = append(selected, u)
		}
	}
	return selected
}

type fetchResult struct {
	uplink      *uplink.Uplink
	manifest    *core.Manifest
	notModified bool
	err         error
}

// Merge runs the §4.4 seven-step algorithm and returns the merged
// manifest plus the errors that were recovered locally (per-uplink
// fetch failures and filter failures alike) rather than aborting the
// whole operation.
func (e *Engine) Merge(ctx context.Context, name string, opts Options) (*core.Manifest, []error, error) {
	local, err := e.backend.ReadPackage(ctx, name)
	hadLocal := true
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, nil, err
		}
		hadLocal = false
		local = core.NewManifest(name)
	}
	ensureManifestMaps(local)

	// Step 1: no fan-out requested. The local manifest is returned as
	// stored, but step 6's normalization is unconditional — P7 ("for
	// any returned manifest M...") binds every return path, not just
	// the ones that went through a fan-out.
	if !opts.UplinksLook {
		local.NormalizeDistTags()
		local.ClearAttachments()
		return local, nil, nil
	}
	upLinks := e.selectUplinks(name)
	now := core.NowMillis()
	results := make([]fetchResult, len(upLinks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, u := range upLinks {
		i, u := i, u
		g.Go(func() error {
			results[i] = e.fetchOne(gctx, u, local, now)
			return nil
		})
	}
	// Fetch errors are recovered per-uplink inside fetchOne; Wait only
	// propagates ctx cancellation, which a single goroutine returning a
	// non-nil error would otherwise trigger.
	_ = g.Wait()

	var uplinkErrs []core.UplinkError
	producedAny := hadLocal
	timeoutOnly := true

	for _, r := range results {
		if r.err != nil {
			uplinkErrs = append(uplinkErrs, core.UplinkError{Uplink: r.uplink.Name, Err: r.err})
			if !uplink.TimeoutClass(r.err) {
				timeoutOnly = false
			}
			continue
		}
		if r.notModified {
			// A fresh skip made no request, so only a real 304 restamps
			// Fetched; otherwise the freshness window would never expire.
			if !local.Uplinks[r.uplink.Name].Fresh(r.uplink.MaxAge, now) {
				local.Uplinks[r.uplink.Name] = &core.UplinkState{
					Etag:    uplinkEtag(local, r.uplink.Name),
					Fetched: now,
				}
			}
			producedAny = true
			continue
		}
		e.integrate(local, r)
		producedAny = true
	}

	// Step 3: escalation.
	if !producedAny {
		if timeoutOnly && len(uplinkErrs) == len(upLinks) && len(upLinks) > 0 {
			return nil, uplinkErrsToErrors(uplinkErrs), &core.ServiceUnavailableError{Package: name, Causes: uplinkErrs}
		}
		return nil, uplinkErrsToErrors(uplinkErrs), &core.NotFoundError{Package: name}
	}

	// Step 4: persist.
	if err := e.backend.SavePackage(ctx, name, local); err != nil {
		return nil, uplinkErrsToErrors(uplinkErrs), err
	}

	// Step 5: filters, serially, in deterministic order. A filter error
	// is collected into the returned error list alongside per-uplink
	// errors (§4.4 step 5, §7's FilterError row) rather than only
	// logged, so a caller can actually observe it.
	mergeErrs := uplinkErrsToErrors(uplinkErrs)
	names := filter.Names()
	sort.Strings(names)
	for _, fname := range names {
		f, ok := filter.Get(fname)
		if !ok {
			continue
		}
		if err := filter.Apply(fname, f, local); err != nil {
			e.logger.Debug("merge: filter error", "filter", fname, "package", name, "error", err)
			mergeErrs = append(mergeErrs, err)
		}
	}

	// Step 6: normalize.
	local.NormalizeDistTags()
	local.ClearAttachments()

	return local, mergeErrs, nil
}

// uplinkErrsToErrors widens a []core.UplinkError into the []error shape
// Merge's second return value carries, so filter errors (core.FilterError)
// and per-uplink errors (core.UplinkError) can share one list.
func uplinkErrsToErrors(uplinkErrs []core.UplinkError) []error {
	if len(uplinkErrs) == 0 {
		return nil
	}
	errs := make([]error, len(uplinkErrs))
	for i, ue := range uplinkErrs {
		errs[i] = ue
	}
	return errs
}

// ensureManifestMaps guards against a manifest read back from JSON
// with omitempty fields absent, which would otherwise panic on the
// map-assignment paths below.
func ensureManifestMaps(m *core.Manifest) {
	if m.Versions == nil {
		m.Versions = make(map[string]*core.VersionEntry)
	}
	if m.DistTags == nil {
		m.DistTags = make(map[string]string)
	}
	if m.Time == nil {
		m.Time = make(map[string]string)
	}
	if m.Uplinks == nil {
		m.Uplinks = make(map[string]*core.UplinkState)
	}
}

func uplinkEtag(m *core.Manifest, name string) string {
	if s, ok := m.Uplinks[name]; ok {
		return s.Etag
	}
	return ""
}

// fetchOne runs step 2 for a single uplink: freshness check, then
// conditional GET, recovering any error onto the result rather than
// returning it (so one uplink's failure never aborts the others).
func (e *Engine) fetchOne(ctx context.Context, u *uplink.Uplink, local *core.Manifest, now int64) fetchResult {
	state := local.Uplinks[u.Name]
	if state.Fresh(u.MaxAge, now) {
		e.logger.Debug("merge: uplink fresh, skipping", "uplink", u.Name)
		return fetchResult{uplink: u, notModified: true}
	}

	etag := ""
	if state != nil {
		etag = state.Etag
	}

	remote, newEtag, err := u.GetRemoteMetadata(ctx, local.Name, etag)
	if errors.Is(err, uplink.ErrNotModified) {
		return fetchResult{uplink: u, notModified: true}
	}
	if err != nil {
		return fetchResult{uplink: u, err: err}
	}

	var validationErr error
	if remote.Name != "" && remote.Name != local.Name {
		validationErr = &core.ValidationError{Uplink: u.Name, Reason: "name mismatch: " + remote.Name}
	}
	if validationErr != nil {
		return fetchResult{uplink: u, err: validationErr}
	}

	remote.Uplinks = map[string]*core.UplinkState{u.Name: {Etag: newEtag, Fetched: now}}
	return fetchResult{uplink: u, manifest: remote}
}

// integrate folds one uplink's fetched manifest into local, applying
// the version-merge rule (local wins on collision unless it's missing
// dist.tarball), the time-merge rule, and the hidden uplink annotation.
func (e *Engine) integrate(local *core.Manifest, r fetchResult) {
	remote := r.manifest
	local.Uplinks[r.uplink.Name] = remote.Uplinks[r.uplink.Name]

	if local.DistFiles == nil {
		local.DistFiles = make(map[string]*core.DistFile)
	}

	for version, entry := range remote.Versions {
		existing, ok := local.Versions[version]
		if !ok {
			local.Versions[version] = entry
			local.SetUplinkOf(version, r.uplink.Name)
			e.registerDistFile(local, r.uplink, entry)
			continue
		}
		if existing.Dist.Tarball == "" {
			local.Versions[version] = entry
			local.SetUplinkOf(version, r.uplink.Name)
			e.registerDistFile(local, r.uplink, entry)
		}
		// else: local wins, leave existing in place.
	}

	for tag, version := range remote.DistTags {
		if _, ok := local.DistTags[tag]; !ok {
			local.DistTags[tag] = version
		}
	}

	for key, ts := range remote.Time {
		local.MergeTime(key, ts)
	}

	for filename, df := range remote.DistFiles {
		if _, ok := local.DistFiles[filename]; !ok {
			local.DistFiles[filename] = df
		}
	}
}

// registerDistFile derives a _distfiles entry for a version just
// adopted from u, per §3's invariant that a cached tarball's filename
// is always resolvable via _distfiles after merge. GetRemoteMetadata
// unmarshals a real upstream registry body, which never carries its
// own _distfiles bookkeeping, so this is the only place that origin is
// ever recorded for an uplink-sourced version.
func (e *Engine) registerDistFile(local *core.Manifest, u *uplink.Uplink, entry *core.VersionEntry) {
	if !u.CacheEnabled || entry.Dist.Tarball == "" {
		return
	}
	filename := core.FilenameFromURL(entry.Dist.Tarball)
	if filename == "" {
		return
	}
	if _, ok := local.DistFiles[filename]; ok {
		return
	}
	local.DistFiles[filename] = &core.DistFile{URL: entry.Dist.Tarball}
}

// UplinksFor exposes the configured-order, proxy-access-filtered
// uplink list for a package name, used by the tarball pipeline to
// pick an uplink for a cache-miss fetch (§4.5 step 3.c).
func (e *Engine) UplinksFor(name string) []*uplink.Uplink {
	return e.selectUplinks(name)
}
