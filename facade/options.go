package facade

import "context"

// GetPackageOptions configures GetPackageByOptions (§4.1).
type GetPackageOptions struct {
	// Version, if set, selects a single version record instead of the
	// full manifest.
	Version string
	// VersionRange, if set and Version is empty, resolves a semver-style
	// range (e.g. "^1.2.3") against the merged manifest's version set —
	// the §4.4 [SUPPLEMENT] range-resolution feature.
	VersionRange string
	// Tag, if set and both Version and VersionRange are empty, resolves
	// a dist-tag (e.g. "latest") instead of an exact version.
	Tag string
	// RemoteAddress is forwarded to the merge engine for uplinks that
	// key rate limiting or auth off the original caller (unused by the
	// core itself; carried per §4.2's contract).
	RemoteAddress string
	// UplinksLook disables uplink fan-out when false, serving whatever
	// is stored locally (§4.4 step 1).
	UplinksLook bool
}

// GetTarballOptions configures GetTarball (§4.1, §4.5).
type GetTarballOptions struct {
	// EnableRemote allows falling back to an uplink on a local cache
	// miss. When false, a miss is NotFound even if a remote copy could
	// be fetched.
	EnableRemote bool
	// Cancel is not read by GetTarball: only the call's ctx is observed.
	// Routing layers that need a second independent cancel signal (e.g.
	// from connection-close rather than request deadline) merge it into
	// ctx before calling.
	Cancel context.Context
}
