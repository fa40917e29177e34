package facade

import (
	"context"
	"sync"

	"github.com/git-pkgs/regcache/client"
	"github.com/git-pkgs/regcache/internal/core"
)

// LocalEntry is one row of GetLocalDatabase's result: a locally-stored
// package plus the convenience URLs client.BuildURLs derives for it.
type LocalEntry struct {
	Manifest *core.Manifest
	URLs     map[string]string
}

// LocalDatabaseOptions configures GetLocalDatabase.
type LocalDatabaseOptions struct {
	// URLBuilder, if set, populates LocalEntry.URLs for each package
	// using its latest dist-tag version. Left nil, URLs are omitted.
	URLBuilder client.URLBuilder
	// Concurrency bounds how many ReadPackage calls run at once while
	// enumerating. Defaults to 8.
	Concurrency int
}

// GetLocalDatabase enumerates every package in local storage, per
// §4.1's [SUPPLEMENT]: a bulk listing operation the core storage
// facade needs even though it isn't one of the per-package read/write
// verbs in §4.3. A per-package read failure is logged and the package
// is skipped rather than aborting the whole listing, the same
// don't-let-one-bad-row-spoil-the-batch posture the teacher's
// BulkFetchPackagesWithConcurrency (internal/core/helpers.go) took
// before deletion — reimplemented here directly over storage.Backend
// instead of over a registry client.
func (f *Facade) GetLocalDatabase(ctx context.Context, opts LocalDatabaseOptions) ([]LocalEntry, error) {
	names, err := f.backend.ListPackages(ctx)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	entries := make([]*LocalEntry, len(names))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()

			m, err := f.backend.ReadPackage(ctx, name)
			if err != nil {
				f.logger.Debug("facade: skipping package in local database listing", "package", name, "error", err)
				return
			}
			entry := &LocalEntry{Manifest: m}
			if opts.URLBuilder != nil {
				entry.URLs = client.BuildURLs(opts.URLBuilder, name, latestVersion(m))
			}
			entries[i] = entry
		}(i, name)
	}
	wg.Wait()

	result := make([]LocalEntry, 0, len(names))
	for _, e := range entries {
		if e != nil {
			result = append(result, *e)
		}
	}
	return result, nil
}

func latestVersion(m *core.Manifest) string {
	if v, ok := m.DistTags[core.ReservedTag]; ok {
		return v
	}
	return ""
}
