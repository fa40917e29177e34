// Package storagetest provides an in-memory storage.Backend double for
// tests, the §9 DESIGN NOTES "in-memory test plugin" the source ships
// alongside its filesystem implementation.
package storagetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/storage"
)

// Memory is a storage.Backend backed by process memory. It serializes
// manifests through JSON on every read/write, the same round-trip the
// filesystem backend performs, so tests exercise the same Marshal/
// Unmarshal edge cases (e.g. VersionEntry's flattened Metadata) without
// touching disk.
type Memory struct {
	mu        sync.Mutex
	manifests map[string][]byte
	tarballs  map[string][]byte
}

// New returns an empty Memory backend.
func New() *Memory {
	return &Memory{
		manifests: make(map[string][]byte),
		tarballs:  make(map[string][]byte),
	}
}

func tarballKey(name, filename string) string { return name + "\x00" + filename }

func (m *Memory) ReadPackage(ctx context.Context, name string) (*core.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.manifests[name]
	if !ok {
		return nil, &core.NotFoundError{Package: name}
	}
	var mf core.Manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

func (m *Memory) CreatePackage(ctx context.Context, name string, mf *core.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.manifests[name]; ok {
		return &core.ConflictError{Package: name, Reason: "package already exists"}
	}
	return m.saveLocked(name, mf)
}

func (m *Memory) SavePackage(ctx context.Context, name string, mf *core.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(name, mf)
}

func (m *Memory) saveLocked(name string, mf *core.Manifest) error {
	data, err := json.Marshal(mf)
	if err != nil {
		return err
	}
	m.manifests[name] = data
	return nil
}

func (m *Memory) UpdatePackage(ctx context.Context, name string, fn storage.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mf *core.Manifest
	if data, ok := m.manifests[name]; ok {
		mf = &core.Manifest{}
		if err := json.Unmarshal(data, mf); err != nil {
			return err
		}
	} else {
		mf = core.NewManifest(name)
	}

	if err := fn(mf); err != nil {
		return err
	}
	return m.saveLocked(name, mf)
}

func (m *Memory) DeletePackage(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.manifests, name)
	return nil
}

func (m *Memory) RemovePackage(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.manifests, name)
	for key := range m.tarballs {
		if len(key) > len(name) && key[:len(name)] == name && key[len(name)] == '\x00' {
			delete(m.tarballs, key)
		}
	}
	return nil
}

func (m *Memory) HasPackage(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.manifests[name]
	return ok, nil
}

func (m *Memory) ListPackages(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.manifests))
	for name := range m.manifests {
		names = append(names, name)
	}
	return names, nil
}

// WriteTarball implements §4.3's exclusive-create contract (P2): the
// key is claimed (as a nil placeholder) under the same lock acquisition
// that checks for its absence, so two concurrent calls can't both
// observe "not present" before either writes. The loser gets
// ConflictError without ever having its body read. The claimed
// placeholder means a concurrent ReadTarball/HasTarball never observes
// a torn write either, since both treat a nil value as "not present"
// until the full body lands.
func (m *Memory) WriteTarball(ctx context.Context, name, filename string, r io.Reader) error {
	key := tarballKey(name, filename)

	m.mu.Lock()
	if _, exists := m.tarballs[key]; exists {
		m.mu.Unlock()
		return &core.ConflictError{Package: name, Reason: fmt.Sprintf("tarball %s already exists", filename)}
	}
	m.tarballs[key] = nil
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := ctxCopy(ctx, &buf, r); err != nil {
		m.mu.Lock()
		delete(m.tarballs, key)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.tarballs[key] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

// ctxCopy streams src into dst, checking ctx for cancellation between
// reads, mirroring storage.FSBackend's own helper of the same name so
// both backends honor a cancelled caller the same way (P6).
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

func (m *Memory) ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.tarballs[tarballKey(name, filename)]
	m.mu.Unlock()
	if !ok || data == nil {
		return nil, &core.NotFoundError{Package: name, Filename: filename}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) HasTarball(ctx context.Context, name, filename string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tarballs[tarballKey(name, filename)]
	return ok && data != nil, nil
}

func (m *Memory) RemoveTarball(ctx context.Context, name, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tarballs, tarballKey(name, filename))
	return nil
}

var _ storage.Backend = (*Memory)(nil)
