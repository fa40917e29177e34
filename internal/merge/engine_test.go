package merge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/filter"
	"github.com/git-pkgs/regcache/internal/storage/storagetest"
	"github.com/git-pkgs/regcache/internal/uplink"
)

func TestMergeColdMissSingleUplinkHit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{
			"name": "left-pad",
			"versions": {"1.0.0": {"dist": {"tarball": "https://u.test/left-pad-1.0.0.tgz"}}},
			"dist-tags": {"latest": "1.0.0"},
			"time": {"1.0.0": "2020-01-01T00:00:00.000Z"}
		}`))
	}))
	defer server.Close()

	u := uplink.New("npmjs", server.URL)
	backend := storagetest.New()
	engine := New(backend, []*uplink.Uplink{u})

	m, uplinkErrs, err := engine.Merge(context.Background(), "left-pad", Options{UplinksLook: true})
	if err != nil {
		t.Fatalf("Merge failed: %v (uplinkErrs=%v)", err, uplinkErrs)
	}
	if _, ok := m.Versions["1.0.0"]; !ok {
		t.Fatal("expected version 1.0.0 to be present after merge")
	}
	if m.Uplinks["npmjs"] == nil || m.Uplinks["npmjs"].Fetched == 0 {
		t.Error("expected _uplinks[npmjs].fetched to be stamped")
	}
	if m.UplinkOf("1.0.0") != "npmjs" {
		t.Errorf("UplinkOf(1.0.0) = %q, want npmjs", m.UplinkOf("1.0.0"))
	}

	df, ok := m.DistFiles["left-pad-1.0.0.tgz"]
	if !ok {
		t.Fatalf("expected _distfiles[left-pad-1.0.0.tgz] to be derived from the uplink's dist.tarball, got %+v", m.DistFiles)
	}
	if df.URL != "https://u.test/left-pad-1.0.0.tgz" {
		t.Errorf("_distfiles[left-pad-1.0.0.tgz].url = %q, want %q", df.URL, "https://u.test/left-pad-1.0.0.tgz")
	}
}

func TestMergeWarmManifestWithinMaxageSkipsNetwork(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"name":"p","versions":{},"dist-tags":{}}`))
	}))
	defer server.Close()

	u := uplink.New("npmjs", server.URL, uplink.WithMaxAge(time.Hour))
	backend := storagetest.New()

	local := core.NewManifest("p")
	local.Uplinks["npmjs"] = &core.UplinkState{Etag: `"v1"`, Fetched: core.NowMillis()}
	if err := backend.SavePackage(context.Background(), "p", local); err != nil {
		t.Fatalf("SavePackage failed: %v", err)
	}

	engine := New(backend, []*uplink.Uplink{u})
	_, _, err := engine.Merge(context.Background(), "p", Options{UplinksLook: true})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (fresh uplink should not be fetched)", calls)
	}
}

func TestMergeLocalWinsOnVersionCollision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"name": "p",
			"versions": {"1.0.0": {"dist": {"tarball": "https://remote/p-1.0.0.tgz"}}},
			"dist-tags": {}
		}`))
	}))
	defer server.Close()

	u := uplink.New("npmjs", server.URL)
	backend := storagetest.New()

	local := core.NewManifest("p")
	local.Versions["1.0.0"] = &core.VersionEntry{Dist: core.Dist{Tarball: "https://local/p-1.0.0.tgz"}}
	_ = backend.SavePackage(context.Background(), "p", local)

	engine := New(backend, []*uplink.Uplink{u})
	m, _, err := engine.Merge(context.Background(), "p", Options{UplinksLook: true})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if m.Versions["1.0.0"].Dist.Tarball != "https://local/p-1.0.0.tgz" {
		t.Errorf("tarball = %q, want local to win", m.Versions["1.0.0"].Dist.Tarball)
	}
}

func TestMergeUnreachableUplinkWithoutLocalDataFails(t *testing.T) {
	u := uplink.New("down", "http://127.0.0.1:1")
	backend := storagetest.New()
	engine := New(backend, []*uplink.Uplink{u})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := engine.Merge(ctx, "missing-pkg", Options{UplinksLook: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, core.ErrServiceUnavailable) && !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ServiceUnavailable or NotFound", err)
	}
}

// TestMergeCollectsFilterErrors covers §4.4 step 5's "filter errors are
// collected into the error list": a filter that fails for this package
// must be observable by the caller, not just logged.
func TestMergeCollectsFilterErrors(t *testing.T) {
	filter.Register("engine-test-explode", func(m *core.Manifest) error {
		if m.Name != "explodes" {
			return nil
		}
		return errors.New("boom")
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"explodes","versions":{"1.0.0":{"dist":{"tarball":"t"}}},"dist-tags":{}}`))
	}))
	defer server.Close()

	u := uplink.New("npmjs", server.URL)
	backend := storagetest.New()
	engine := New(backend, []*uplink.Uplink{u})

	_, mergeErrs, err := engine.Merge(context.Background(), "explodes", Options{UplinksLook: true})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	var found bool
	for _, e := range mergeErrs {
		var fe *core.FilterError
		if errors.As(e, &fe) {
			found = true
		}
	}
	if !found {
		t.Errorf("mergeErrs = %v, want a *core.FilterError from the exploding filter", mergeErrs)
	}
}

func TestMergeDistTagNormalization(t *testing.T) {
	backend := storagetest.New()
	local := core.NewManifest("p")
	local.Versions["1.0.0"] = &core.VersionEntry{Dist: core.Dist{Tarball: "t"}}
	local.DistTags["latest"] = "1.0.0"
	local.DistTags["dangling"] = "9.9.9"
	_ = backend.SavePackage(context.Background(), "p", local)

	engine := New(backend, nil)
	m, _, err := engine.Merge(context.Background(), "p", Options{UplinksLook: false})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, ok := m.DistTags["dangling"]; ok {
		t.Error("expected dangling dist-tag to be absent without fan-out too, since no filters ran")
	}
}
