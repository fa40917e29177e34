package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/git-pkgs/regcache/fetch"
	"github.com/git-pkgs/regcache/internal/core"
)

// GetRemoteMetadata fetches name's manifest from this uplink, sending
// etag as If-None-Match when non-empty. A 304 returns (nil, etag,
// ErrNotModified) so the merge engine can skip remerging this uplink's
// contribution (§4.4 step 2.a/2.b).
func (u *Uplink) GetRemoteMetadata(ctx context.Context, name, etag string) (*core.Manifest, string, error) {
	reqURL := u.metadataURL(name)

	resp, err := u.cb.FetchConditionalWithKey(ctx, u.Name, reqURL, etag)
	if err != nil {
		switch {
		case err == fetch.ErrNotModified:
			return nil, etag, ErrNotModified
		case err == fetch.ErrNotFound:
			return nil, "", &core.NotFoundError{Package: name}
		default:
			return nil, "", err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("uplink %s: reading body: %w", u.Name, err)
	}

	var m core.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, "", &core.ValidationError{Uplink: u.Name, Reason: err.Error()}
	}
	if m.Name == "" {
		m.Name = name
	}

	return &m, resp.ETag, nil
}

// metadataURL builds <base>/<name>, percent-encoding the "/" inside a
// scoped package name the way npm's registry protocol requires so the
// uplink's router doesn't see it as a path separator.
func (u *Uplink) metadataURL(name string) string {
	base := strings.TrimRight(u.BaseURL, "/")
	if strings.HasPrefix(name, "@") {
		name = url.PathEscape(name)
	}
	return base + "/" + name
}
