package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/git-pkgs/regcache/internal/core"
)

const (
	manifestFilename = "package.json"
	lockBudget       = 5 * time.Second
)

// FSBackend is the default Backend: one directory per package under
// root, a manifestFilename inside it, and tarballs as sibling files in
// that same directory.
type FSBackend struct {
	root string
}

// NewFSBackend returns a Backend rooted at root. root is created if
// absent.
func NewFSBackend(root string) (*FSBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root: %w", err)
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) packageDir(name string) string {
	return filepath.Join(b.root, core.StorageSegment(name))
}

func (b *FSBackend) manifestPath(name string) string {
	return filepath.Join(b.packageDir(name), manifestFilename)
}

func (b *FSBackend) tarballPath(name, filename string) string {
	filename = core.SanitizeFilename(filename)
	return filepath.Join(b.packageDir(name), filename)
}

func (b *FSBackend) ReadPackage(ctx context.Context, name string) (*core.Manifest, error) {
	data, err := os.ReadFile(b.manifestPath(name))
	if err != nil {
		return nil, translateReadErr(err, name, "", "")
	}
	var m core.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("storage: %s: decoding manifest: %w", name, err)
	}
	return &m, nil
}

func (b *FSBackend) CreatePackage(ctx context.Context, name string, m *core.Manifest) error {
	if _, err := os.Stat(b.manifestPath(name)); err == nil {
		return &core.ConflictError{Package: name, Reason: "package already exists"}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return b.SavePackage(ctx, name, m)
}

func (b *FSBackend) SavePackage(ctx context.Context, name string, m *core.Manifest) error {
	dir := b.packageDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: %s: creating package dir: %w", name, err)
	}
	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return fmt.Errorf("storage: %s: encoding manifest: %w", name, err)
	}
	return atomicWrite(b.manifestPath(name), data)
}

// UpdatePackage implements §4.3's six-step algorithm: acquire the
// exclusive lock on the manifest's "<manifest>.lock" sidecar file, read
// the current manifest (falling back to core.NewManifest for a first
// publish), run fn, write the result atomically, release the lock. The
// sidecar keeps the lock file from ever being an empty manifest, and
// stays the same file across the rename that replaces the manifest.
func (b *FSBackend) UpdatePackage(ctx context.Context, name string, fn UpdateFunc) error {
	path := b.manifestPath(name)
	if err := os.MkdirAll(b.packageDir(name), 0o755); err != nil {
		return fmt.Errorf("storage: %s: creating package dir: %w", name, err)
	}

	l, err := acquireExclusive(ctx, path+".lock", lockBudget)
	if err != nil {
		return err
	}
	defer func() { _ = l.Unlock() }()

	m, err := b.ReadPackage(ctx, name)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		m = core.NewManifest(name)
	}

	if err := fn(m); err != nil {
		return err
	}

	return b.SavePackage(ctx, name, m)
}

func (b *FSBackend) DeletePackage(ctx context.Context, name string) error {
	err := os.Remove(b.manifestPath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemovePackage deletes the manifest and every tarball in the
// package's directory, the §4.3 cascade supplement that closes the
// orphaned-blob leak a bare manifest delete would leave behind.
func (b *FSBackend) RemovePackage(ctx context.Context, name string) error {
	dir := b.packageDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: %s: removing package: %w", name, err)
	}
	return nil
}

func (b *FSBackend) HasPackage(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(b.manifestPath(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ListPackages walks root's immediate subdirectories and reports the
// name of every one that holds a manifest, skipping entries left
// behind by an interrupted write (a directory with no manifest file).
func (b *FSBackend) ListPackages(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("storage: listing packages: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestFile := filepath.Join(b.root, entry.Name(), manifestFilename)
		raw, err := os.ReadFile(manifestFile)
		if err != nil {
			continue
		}
		var m core.Manifest
		if err := json.Unmarshal(raw, &m); err != nil || m.Name == "" {
			continue
		}
		names = append(names, m.Name)
	}
	return names, nil
}

// WriteTarball implements §4.3's exclusive-create contract (P2) without
// ever exposing a torn write at the final name (§5). The body is first
// streamed into a "<filename>.tmp-<rand>" staging file in the same
// directory — a name nobody else can address — so a concurrent
// ReadTarball/HasTarball against dest sees either nothing or the
// complete file, never a partial one. Once the staging file holds the
// whole body, os.Link commits it onto dest; Link only succeeds if dest
// is still absent, so the first of two concurrent writers to finish
// wins the claim and the loser gets ConflictError. ctx is honored by
// ctxCopy, which checks for cancellation between reads (P6).
func (b *FSBackend) WriteTarball(ctx context.Context, name, filename string, r io.Reader) error {
	dir := b.packageDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: %s: creating package dir: %w", name, err)
	}

	dest := b.tarballPath(name, filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: %s: staging tarball %s: %w", name, filename, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := ctxCopy(ctx, tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: %s: writing tarball %s: %w", name, filename, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: %s: closing tarball %s: %w", name, filename, err)
	}

	if err := os.Link(tmpName, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &core.ConflictError{Package: name, Reason: fmt.Sprintf("tarball %s already exists", filename)}
		}
		return fmt.Errorf("storage: %s: committing tarball %s: %w", name, filename, err)
	}
	return nil
}

// ctxCopy streams src into dst, checking ctx for cancellation between
// reads so a cancelled caller doesn't wait out a slow or stalled
// upstream body — the §5 "every long-running operation accepts a
// cancellation token" contract, applied the same way acquireExclusive
// polls a deadline-bound context rather than blocking unconditionally.
func ctxCopy(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func (b *FSBackend) ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	f, err := os.Open(b.tarballPath(name, filename))
	if err != nil {
		return nil, translateReadErr(err, name, "", filename)
	}
	return f, nil
}

func (b *FSBackend) HasTarball(ctx context.Context, name, filename string) (bool, error) {
	_, err := os.Stat(b.tarballPath(name, filename))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *FSBackend) RemoveTarball(ctx context.Context, name, filename string) error {
	err := os.Remove(b.tarballPath(name, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// atomicWrite writes data to a temp file in dest's directory and
// renames it into place, per §4.3/§5's "write to tmp, rename into
// place" discipline. On Windows, os.Rename fails if dest already
// exists, so the destination is removed first (the rename-displacement
// fallback §5 calls out by name).
func atomicWrite(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: closing temp file: %w", err)
	}

	if runtime.GOOS == "windows" {
		if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(tmpName)
			return fmt.Errorf("storage: displacing existing file: %w", err)
		}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: renaming into place: %w", err)
	}
	return nil
}
