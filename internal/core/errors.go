package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in SPEC_FULL.md §7. Every exported
// operation in facade/ returns an error that satisfies errors.Is against
// one of these, the same contract the teacher's ErrNotFound gave its
// registry clients.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrResourceUnavailable = errors.New("resource temporarily unavailable")
	ErrServiceUnavailable  = errors.New("service unavailable")
)

// NotFoundError wraps ErrNotFound with the package/version/tarball that
// was missing, mirroring the teacher's NotFoundError shape.
type NotFoundError struct {
	Package  string
	Version  string
	Filename string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Filename != "":
		return fmt.Sprintf("%s: tarball %s not found", e.Package, e.Filename)
	case e.Version != "":
		return fmt.Sprintf("%s: version %s not found", e.Package, e.Version)
	default:
		return fmt.Sprintf("%s: package not found", e.Package)
	}
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError is returned when a create-if-absent is violated or the
// publish-gate detects the package already exists upstream.
type ConflictError struct {
	Package string
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: conflict: %s", e.Package, e.Reason)
	}
	return fmt.Sprintf("%s: conflict", e.Package)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ResourceUnavailableError is file-lock contention beyond the retry
// budget (EAGAIN), surfaced as InternalError per §7's propagation column.
type ResourceUnavailableError struct {
	Path string
	Err  error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: resource temporarily unavailable: %v", e.Path, e.Err)
}

func (e *ResourceUnavailableError) Unwrap() error { return ErrResourceUnavailable }

// ServiceUnavailableError is returned when a package is missing locally
// and every configured uplink failed with a timeout-class error.
type ServiceUnavailableError struct {
	Package string
	Causes  []UplinkError
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s: service unavailable: all %d uplink(s) timed out", e.Package, len(e.Causes))
}

func (e *ServiceUnavailableError) Unwrap() error { return ErrServiceUnavailable }

// UplinkError records a single uplink's failure during a merge fan-out.
// The merge engine recovers these locally (§7: "recorded per-uplink;
// other uplinks continue") rather than aborting the whole operation.
type UplinkError struct {
	Uplink string
	Err    error
}

func (e UplinkError) Error() string {
	return fmt.Sprintf("uplink %s: %v", e.Uplink, e.Err)
}

// ValidationError records a malformed manifest body from an uplink.
type ValidationError struct {
	Uplink string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("uplink %s: invalid manifest: %s", e.Uplink, e.Reason)
}

// FilterError records a filter that raised during §4.4 step 5. Filter
// errors never abort the merge; they're collected alongside the result.
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Filter, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }
