package storagetest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/git-pkgs/regcache/internal/core"
)

func TestMemoryWriteTarballConflictsOnSecondWriter(t *testing.T) {
	b := New()
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

func TestMemoryWriteTarballConcurrentExactlyOneSucceeds(t *testing.T) {
	b := New()
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
