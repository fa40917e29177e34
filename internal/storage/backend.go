// Package storage implements the Local Package Manager plugin contract
// (SPEC_FULL.md §4.3): atomic read-modify-write of package manifests and
// content storage for cached/published tarballs. Backend is the plugin
// interface; FSBackend is the default filesystem implementation.
package storage

import (
	"context"
	"io"

	"github.com/git-pkgs/regcache/internal/core"
)

// UpdateFunc mutates a manifest in place during an UpdatePackage
// transaction. Returning an error aborts the transaction; the manifest
// on disk is left unchanged.
type UpdateFunc func(m *core.Manifest) error

// Backend is the storage plugin contract every Local Package Manager
// implementation satisfies. Method names follow the verbs in §4.3.
type Backend interface {
	// ReadPackage returns the stored manifest for name, or a
	// *core.NotFoundError if none exists.
	ReadPackage(ctx context.Context, name string) (*core.Manifest, error)

	// CreatePackage stores a brand-new manifest. It returns
	// *core.ConflictError if one already exists.
	CreatePackage(ctx context.Context, name string, m *core.Manifest) error

	// SavePackage overwrites the stored manifest unconditionally, used
	// by the merge engine to persist the merged manifest after fan-out
	// and before filters run (§4.4 step 4).
	SavePackage(ctx context.Context, name string, m *core.Manifest) error

	// UpdatePackage performs the lock -> read -> mutate -> write -> unlock
	// cycle from §4.3's six-step algorithm. fn is called once per
	// UpdatePackage call, after the lock is held.
	UpdatePackage(ctx context.Context, name string, fn UpdateFunc) error

	// DeletePackage removes the stored manifest for name, leaving its
	// tarballs in place. It is a no-op, not an error, if the manifest is
	// already absent.
	DeletePackage(ctx context.Context, name string) error

	// RemovePackage deletes the manifest and, per §4.3's supplemented
	// cascade, any tarballs orphaned by its removal.
	RemovePackage(ctx context.Context, name string) error

	// HasPackage reports whether a manifest exists for name.
	HasPackage(ctx context.Context, name string) (bool, error)

	// ListPackages enumerates every locally-stored package name, for
	// GetLocalDatabase (§4.1's [SUPPLEMENT]).
	ListPackages(ctx context.Context) ([]string, error)

	// WriteTarball stores filename's content for package name, reading
	// from r until EOF. Implementations must write atomically: a caller
	// that observes an error must not see a partially written file
	// under ReadTarball.
	WriteTarball(ctx context.Context, name, filename string, r io.Reader) error

	// ReadTarball opens a stored tarball for reading, or returns a
	// *core.NotFoundError.
	ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error)

	// HasTarball reports whether a tarball is already cached.
	HasTarball(ctx context.Context, name, filename string) (bool, error)

	// RemoveTarball deletes one cached tarball.
	RemoveTarball(ctx context.Context, name, filename string) error
}
