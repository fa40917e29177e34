// Package core holds the data model shared by the merge engine, the
// storage backend, and the uplink proxy: the package manifest, its
// per-version records, and the domain error taxonomy.
package core

import (
	"sync"
	"time"
)

// ReservedTag is the dist-tag the merge engine and storage backend treat
// specially: it must always point at a key of Versions after a merge.
const ReservedTag = "latest"

// Manifest is the canonical document describing a package's versions,
// as read from and written to the local storage backend and produced by
// the merge engine. It is the JSON shape in SPEC_FULL.md §3.
type Manifest struct {
	Name        string                   `json:"name"`
	Versions    map[string]*VersionEntry `json:"versions"`
	DistTags    map[string]string        `json:"dist-tags"`
	Time        map[string]string        `json:"time"`
	DistFiles   map[string]*DistFile     `json:"_distfiles,omitempty"`
	Attachments map[string]any           `json:"_attachments,omitempty"`
	Uplinks     map[string]*UplinkState  `json:"_uplinks,omitempty"`
	Rev         string                   `json:"_rev,omitempty"`
	Users       map[string]bool          `json:"users,omitempty"`

	// uplinkOf is the hidden per-version annotation from §6/§9: which
	// uplink supplied a version, kept out-of-band so it never leaks into
	// the JSON-serializable struct above. Guarded by mu because the merge
	// engine's fan-out writes to it from multiple goroutines before the
	// single-threaded integration step reads it back.
	mu       sync.Mutex
	uplinkOf map[string]string
}

// VersionEntry is a single version's metadata plus its dist sub-record.
// Metadata carries whatever arbitrary per-version fields an uplink or a
// publish payload supplied (license, engines, dependencies, ...).
type VersionEntry struct {
	Dist     Dist           `json:"dist"`
	Metadata map[string]any `json:"-"`
}

// Dist is the tarball locator embedded in a VersionEntry.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// DistFile is the authoritative, never-rewritten locator for a cached
// tarball: the URL it was originally fetched from and its checksum.
type DistFile struct {
	URL string `json:"url"`
	Sha string `json:"sha,omitempty"`
}

// UplinkState is the merge engine's per-uplink freshness record.
type UplinkState struct {
	Etag    string `json:"etag,omitempty"`
	Fetched int64  `json:"fetched"` // wall-clock ms of last successful (incl. 304) fetch
}

// NewManifest returns the empty template used when no local manifest
// exists yet, per §4.4 step 1 ("a freshly generated empty template").
func NewManifest(name string) *Manifest {
	return &Manifest{
		Name:     name,
		Versions: make(map[string]*VersionEntry),
		DistTags: make(map[string]string),
		Time:     make(map[string]string),
		Uplinks:  make(map[string]*UplinkState),
	}
}

// SetUplinkOf records the hidden per-version annotation: which uplink
// supplied this version. Safe for concurrent use during fan-out.
func (m *Manifest) SetUplinkOf(version, uplinkName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uplinkOf == nil {
		m.uplinkOf = make(map[string]string)
	}
	m.uplinkOf[version] = uplinkName
}

// UplinkOf returns which uplink supplied a version, or "" if it was
// published locally or the annotation was never recorded.
func (m *Manifest) UplinkOf(version string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uplinkOf[version]
}

// NormalizeDistTags drops any dist-tag whose target version is absent
// from Versions, enforcing invariant P7 / §4.4 step 6.
func (m *Manifest) NormalizeDistTags() {
	for tag, version := range m.DistTags {
		if _, ok := m.Versions[version]; !ok {
			delete(m.DistTags, tag)
		}
	}
}

// ClearAttachments zeroes _attachments, per §4.4 step 6 ("present in
// publish payloads; zeroed in read responses").
func (m *Manifest) ClearAttachments() {
	m.Attachments = nil
}

// MergeTime merges one "version -> ISO-8601 timestamp" entry into the
// manifest's time map, taking the max of the existing and incoming
// values (§4.4 step 2.e: "merge time, take max of each key").
func (m *Manifest) MergeTime(key, timestamp string) {
	if m.Time == nil {
		m.Time = make(map[string]string)
	}
	existing, ok := m.Time[key]
	if !ok || timestamp > existing {
		m.Time[key] = timestamp
	}
}

// NowMillis returns wall-clock time in milliseconds, the unit §3's
// invariant on _uplinks[u].fetched is specified in.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Fresh reports whether an uplink's last fetch is still within maxage
// of now (§4.4 step 2.a, P3).
func (s *UplinkState) Fresh(maxage time.Duration, now int64) bool {
	if s == nil || s.Fetched == 0 {
		return false
	}
	return now-s.Fetched < maxage.Milliseconds()
}
