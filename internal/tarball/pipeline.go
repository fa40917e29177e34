// Package tarball implements the Tarball Pipeline (SPEC_FULL.md §4.5):
// local-hit / remote-fallback streaming with write-through caching and
// cancellation.
//
// The tee-while-caching shape is grounded on the retrieved pack's
// GetCache/CacheWriter split (sepich-containerd-registry-cache's
// cache.CachingService: a cache lookup returns a writer the caller
// feeds as it streams) and the Get/Put/Delete content-store contract
// in meigma-blobber's cache.Cache — generalized here from a
// content-addressed blob store to the storage.Backend's named-tarball
// contract.
package tarball

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/storage"
	"github.com/git-pkgs/regcache/internal/uplink"
)

// Options configures one GetTarball call (§4.5's {enableRemote, cancel}).
type Options struct {
	EnableRemote bool
}

// Pipeline orchestrates local-hit / remote-fallback tarball streaming.
type Pipeline struct {
	backend storage.Backend
	uplinks []*uplink.Uplink
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches structured logging, defaulting to a discard
// handler when unset.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New constructs a Pipeline over backend and the configured uplinks,
// in proxy-access-matching order.
func New(backend storage.Backend, uplinks []*uplink.Uplink, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend: backend,
		uplinks: uplinks,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) selectUplink(name string) *uplink.Uplink {
	for _, u := range p.uplinks {
		if u.Allows(name) {
			return u
		}
	}
	return nil
}

// GetTarball implements the §4.5 algorithm. The returned ReadCloser
// streams from local storage on a cache hit; on a miss with
// opts.EnableRemote, it streams from the resolved uplink while tee-ing
// the same bytes into a concurrent cache write, so readTarball serves
// purely locally on the next call (P5).
func (p *Pipeline) GetTarball(ctx context.Context, name, filename string, opts Options) (io.ReadCloser, error) {
	local, err := p.backend.ReadTarball(ctx, name, filename)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if !opts.EnableRemote {
		return nil, err
	}

	manifest, merr := p.backend.ReadPackage(ctx, name)
	if merr != nil {
		return nil, merr
	}
	df, ok := manifest.DistFiles[filename]
	if !ok {
		return nil, &core.NotFoundError{Package: name, Filename: filename}
	}

	u := p.selectUplink(name)
	if u == nil {
		u = AdHoc(df.URL)
		p.logger.Debug("tarball: synthesized ad-hoc uplink", "package", name, "filename", filename, "url", df.URL)
	}

	remote, ferr := u.FetchTarball(ctx, df.URL)
	if ferr != nil {
		return nil, ferr
	}

	if !u.CacheEnabled {
		return remote.Body, nil
	}

	// No existence pre-check here: that would be a TOCTOU race against
	// a concurrent writer. WriteTarball itself claims <filename>
	// exclusively (P2), so a losing concurrent fetch still streams the
	// caller's body correctly and just has its cache write rejected
	// with ConflictError, logged in teeIntoCache's Close.
	return p.teeIntoCache(ctx, name, filename, remote.Body), nil
}

// teeIntoCache wraps upstream in a ReadCloser that tees every byte the
// caller reads into a concurrent storage.Backend.WriteTarball call. The
// caller never observes a byte that didn't come from upstream (the
// cache write runs on a pipe fed by the same TeeReader) — the ordering
// guarantee §4.5 calls "the cache is strictly write-through".
func (p *Pipeline) teeIntoCache(ctx context.Context, name, filename string, upstream io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		err := p.backend.WriteTarball(ctx, name, filename, pr)
		// A writer that stops early (conflict, cancellation) leaves the
		// pipe unread; drain it so the caller's tee writes never block.
		_, _ = io.Copy(io.Discard, pr)
		done <- err
	}()

	return &cachingReader{
		r:        io.TeeReader(upstream, pw),
		upstream: upstream,
		pw:       pw,
		done:     done,
		logger:   p.logger,
		name:     name,
		filename: filename,
	}
}

// cachingReader is the tee: reads come from upstream (via r, a
// TeeReader), are mirrored into pw, and Close finalizes the cache
// write. A short read (Close before io.EOF) aborts the cache write via
// CloseWithError, leaving no partial tarball on disk — WriteTarball
// only commits the tarball after a complete, error-free read.
type cachingReader struct {
	r        io.Reader
	upstream io.ReadCloser
	pw       *io.PipeWriter
	done     chan error
	logger   *slog.Logger
	name     string
	filename string
	eof      bool
}

func (c *cachingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.eof = true
	}
	return n, err
}

func (c *cachingReader) Close() error {
	closeErr := c.upstream.Close()

	if c.eof {
		_ = c.pw.Close()
	} else {
		_ = c.pw.CloseWithError(io.ErrUnexpectedEOF)
	}

	if err := <-c.done; err != nil {
		c.logger.Debug("tarball: cache write aborted", "package", c.name, "filename", c.filename, "error", err)
	}

	return closeErr
}
