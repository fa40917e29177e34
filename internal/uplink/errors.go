package uplink

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/git-pkgs/regcache/fetch"
)

// ErrNotModified is returned by GetRemoteMetadata when the upstream
// responds 304 against the stored etag.
var ErrNotModified = fetch.ErrNotModified

// TimeoutError wraps an uplink failure classified as a timeout, the
// glossary's ETIMEDOUT/ESOCKETTIMEDOUT/ECONNRESET bucket that the merge
// engine treats as "uplink unreachable" rather than "uplink rejected
// the request" (§7, ServiceUnavailableError).
type TimeoutError struct {
	Uplink string
	Err    error
}

func (e *TimeoutError) Error() string {
	return "uplink " + e.Uplink + ": " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TimeoutClass reports whether err represents a network-level timeout —
// the glossary's narrow ETIMEDOUT/ESOCKETTIMEDOUT/ECONNRESET bucket —
// rather than a definitive response (404, validation failure, a real
// 5xx, ...). fetch.ErrUpstreamDown covers both a genuine upstream
// timeout and a flat 5xx/open-breaker response; only the former is
// timeout-class, so it is deliberately excluded here rather than
// folded in wholesale. A non-timeout error (including ErrUpstreamDown)
// must abort a publish-gate check with CONFLICT, not be forgiven by
// offlinePublish.
func TimeoutClass(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	return false
}
