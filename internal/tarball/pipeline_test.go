package tarball

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/storage/storagetest"
	"github.com/git-pkgs/regcache/internal/uplink"
)

func TestGetTarballLocalHit(t *testing.T) {
	backend := storagetest.New()
	ctx := context.Background()
	_ = backend.WriteTarball(ctx, "p", "p-1.0.0.tgz", strings.NewReader("bytes"))

	p := New(backend, nil)
	rc, err := p.GetTarball(ctx, "p", "p-1.0.0.tgz", Options{})
	if err != nil {
		t.Fatalf("GetTarball failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	data, _ := io.ReadAll(rc)
	if string(data) != "bytes" {
		t.Errorf("data = %q, want bytes", data)
	}
}

func TestGetTarballRemoteFallbackCachesAndServesLocallyNext(t *testing.T) {
	content := "tarball-content"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()

	backend := storagetest.New()
	ctx := context.Background()

	m := core.NewManifest("p")
	m.DistFiles = map[string]*core.DistFile{
		"p-1.0.0.tgz": {URL: server.URL + "/p-1.0.0.tgz"},
	}
	_ = backend.SavePackage(ctx, "p", m)

	u := uplink.New("npmjs", server.URL)
	pl := New(backend, []*uplink.Uplink{u})

	rc, err := pl.GetTarball(ctx, "p", "p-1.0.0.tgz", Options{EnableRemote: true})
	if err != nil {
		t.Fatalf("GetTarball failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	_ = rc.Close()
	if string(data) != content {
		t.Errorf("data = %q, want %q", data, content)
	}

	// Give the cache-write goroutine's pipe a moment to finish: Close()
	// already blocks on <-c.done, so by the time rc.Close() returned
	// above the cache write has completed.
	has, err := backend.HasTarball(ctx, "p", "p-1.0.0.tgz")
	if err != nil {
		t.Fatalf("HasTarball failed: %v", err)
	}
	if !has {
		t.Fatal("expected tarball to be cached after remote fallback")
	}

	cached, err := backend.ReadTarball(ctx, "p", "p-1.0.0.tgz")
	if err != nil {
		t.Fatalf("ReadTarball failed: %v", err)
	}
	defer func() { _ = cached.Close() }()
	cachedData, _ := io.ReadAll(cached)
	if string(cachedData) != content {
		t.Errorf("cached data = %q, want %q", cachedData, content)
	}
}

func TestGetTarballRemoteNotFound(t *testing.T) {
	backend := storagetest.New()
	ctx := context.Background()

	m := core.NewManifest("p")
	_ = backend.SavePackage(ctx, "p", m)

	pl := New(backend, nil)
	_, err := pl.GetTarball(ctx, "p", "p-1.0.0.tgz", Options{EnableRemote: true})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetTarballDisabledRemoteStaysNotFound(t *testing.T) {
	backend := storagetest.New()
	ctx := context.Background()
	_, err := backend.ReadPackage(ctx, "p")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected fixture package to be absent, got %v", err)
	}

	pl := New(backend, nil)
	_, err = pl.GetTarball(ctx, "p", "p-1.0.0.tgz", Options{EnableRemote: false})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
