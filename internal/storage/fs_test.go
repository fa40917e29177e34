package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/git-pkgs/regcache/internal/core"
)

// stepReader hands out one chunk per Read call, invoking cancel after
// the first chunk so a caller can observe WriteTarball reacting to
// context cancellation mid-stream rather than after io.EOF.
type stepReader struct {
	chunks [][]byte
	i      int
	cancel func()
}

func (r *stepReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	if r.i == 1 && r.cancel != nil {
		r.cancel()
	}
	return n, nil
}

func TestCreateAndReadPackage(t *testing.T) {
	b, err := NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBackend failed: %v", err)
	}
	ctx := context.Background()

	m := core.NewManifest("left-pad")
	if err := b.CreatePackage(ctx, "left-pad", m); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}

	got, err := b.ReadPackage(ctx, "left-pad")
	if err != nil {
		t.Fatalf("ReadPackage failed: %v", err)
	}
	if got.Name != "left-pad" {
		t.Errorf("Name = %q, want left-pad", got.Name)
	}
}

func TestCreatePackageConflict(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	m := core.NewManifest("left-pad")
	if err := b.CreatePackage(ctx, "left-pad", m); err != nil {
		t.Fatalf("first CreatePackage failed: %v", err)
	}
	err := b.CreatePackage(ctx, "left-pad", m)
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestReadPackageNotFound(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	_, err := b.ReadPackage(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePackageCreatesOnFirstPublish(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	err := b.UpdatePackage(ctx, "new-pkg", func(m *core.Manifest) error {
		m.Versions["1.0.0"] = &core.VersionEntry{Dist: core.Dist{Tarball: "t.tgz"}}
		m.DistTags["latest"] = "1.0.0"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdatePackage failed: %v", err)
	}

	got, err := b.ReadPackage(ctx, "new-pkg")
	if err != nil {
		t.Fatalf("ReadPackage failed: %v", err)
	}
	if _, ok := got.Versions["1.0.0"]; !ok {
		t.Error("expected version 1.0.0 to persist")
	}
}

func TestUpdatePackageAbortsOnError(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	boom := errors.New("boom")
	err := b.UpdatePackage(ctx, "pkg", func(m *core.Manifest) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	has, _ := b.HasPackage(ctx, "pkg")
	if has {
		t.Error("aborted UpdatePackage should not have created a manifest")
	}
}

func TestWriteAndReadTarball(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	content := "tarball bytes"
	if err := b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", strings.NewReader(content)); err != nil {
		t.Fatalf("WriteTarball failed: %v", err)
	}

	rc, err := b.ReadTarball(ctx, "pkg", "pkg-1.0.0.tgz")
	if err != nil {
		t.Fatalf("ReadTarball failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	buf := make([]byte, len(content))
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != content {
		t.Errorf("content = %q, want %q", buf, content)
	}
}

func TestWriteTarballConflictsOnSecondWriter(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	if err := b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", strings.NewReader("first")); err != nil {
		t.Fatalf("first WriteTarball failed: %v", err)
	}

	err := b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", strings.NewReader("second"))
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	rc, rerr := b.ReadTarball(ctx, "pkg", "pkg-1.0.0.tgz")
	if rerr != nil {
		t.Fatalf("ReadTarball failed: %v", rerr)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if string(data) != "first" {
		t.Errorf("content = %q, want %q (loser must not overwrite winner)", data, "first")
	}
}

func TestWriteTarballConcurrentExactlyOneSucceeds(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", strings.NewReader("payload"))
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("successful writers = %d, want exactly 1", count)
	}
}

// TestWriteTarballHonorsContextCancellation covers P6: a cancelled ctx
// aborts the staged write before it's ever committed to dest, and
// leaves no staging file behind.
func TestWriteTarballHonorsContextCancellation(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())

	r := &stepReader{chunks: [][]byte{[]byte("first-chunk"), []byte("second-chunk")}, cancel: cancel}
	err := b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", r)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if has, _ := b.HasTarball(context.Background(), "pkg", "pkg-1.0.0.tgz"); has {
		t.Error("cancelled write must not leave a committed tarball")
	}

	entries, err := os.ReadDir(b.packageDir("pkg"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("cancelled write left a staging file behind: %s", e.Name())
		}
	}
}

func TestRemovePackageCascadesTarballs(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	_ = b.CreatePackage(ctx, "pkg", core.NewManifest("pkg"))
	_ = b.WriteTarball(ctx, "pkg", "pkg-1.0.0.tgz", strings.NewReader("x"))

	if err := b.RemovePackage(ctx, "pkg"); err != nil {
		t.Fatalf("RemovePackage failed: %v", err)
	}

	if has, _ := b.HasTarball(ctx, "pkg", "pkg-1.0.0.tgz"); has {
		t.Error("expected tarball to be removed along with package")
	}
	if has, _ := b.HasPackage(ctx, "pkg"); has {
		t.Error("expected manifest to be removed")
	}
}

func TestListPackagesSkipsUnscopedAndScopedCorrectly(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	_ = b.CreatePackage(ctx, "left-pad", core.NewManifest("left-pad"))
	_ = b.CreatePackage(ctx, "@scope/pkg", core.NewManifest("@scope/pkg"))

	names, err := b.ListPackages(ctx)
	if err != nil {
		t.Fatalf("ListPackages failed: %v", err)
	}

	want := map[string]bool{"left-pad": true, "@scope/pkg": true}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want keys of %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected name %q", n)
		}
	}
}

func TestScopedPackageStorageSegment(t *testing.T) {
	b, _ := NewFSBackend(t.TempDir())
	ctx := context.Background()

	m := core.NewManifest("@scope/pkg")
	if err := b.CreatePackage(ctx, "@scope/pkg", m); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	got, err := b.ReadPackage(ctx, "@scope/pkg")
	if err != nil {
		t.Fatalf("ReadPackage failed: %v", err)
	}
	if got.Name != "@scope/pkg" {
		t.Errorf("Name = %q, want @scope/pkg", got.Name)
	}
}
