package merge

import (
	"context"
	"errors"

	"github.com/git-pkgs/regcache/internal/core"
	"github.com/git-pkgs/regcache/internal/uplink"
)

// CheckPublishGate implements §4.3's publish-gate: fan out to every
// uplink configured with proxy access to name and confirm none of them
// already owns it before addPackage is allowed to create a local
// manifest.
//
// Publish proceeds (nil error) only if every consulted uplink reports
// the package absent, or — when offlinePublish is set — every error
// encountered was timeout-class. Any non-timeout error or any uplink
// 200 response aborts the publish.
func (e *Engine) CheckPublishGate(ctx context.Context, name string, offlinePublish bool) error {
	upLinks := e.selectUplinks(name)
	if len(upLinks) == 0 {
		return nil
	}

	var timeoutErrs []core.UplinkError
	for _, u := range upLinks {
		_, _, err := u.GetRemoteMetadata(ctx, name, "")
		switch {
		case err == nil:
			return &core.ConflictError{Package: name, Reason: "package already exists on uplink " + u.Name}
		case err == uplink.ErrNotModified:
			// Can't happen with an empty etag, but treat as "exists" to be safe.
			return &core.ConflictError{Package: name, Reason: "package already exists on uplink " + u.Name}
		case isNotFound(err):
			continue
		case uplink.TimeoutClass(err):
			timeoutErrs = append(timeoutErrs, core.UplinkError{Uplink: u.Name, Err: err})
		default:
			return &core.ConflictError{Package: name, Reason: err.Error()}
		}
	}

	if len(timeoutErrs) == 0 {
		return nil
	}
	if offlinePublish {
		return nil
	}
	return &core.ServiceUnavailableError{Package: name, Causes: timeoutErrs}
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
