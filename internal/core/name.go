package core

import "strings"

// SanitizeName strips null bytes and ".." sequences from a package
// name before it is joined with a storage root, per §4.3's "Filesystem
// filenames are sanitized" rule (extended here to apply to the package
// name segment of the storage layout too). "/" is kept, since a scoped
// name like "@scope/name" contains one; StorageSegment flattens it.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, "..", "")
	return name
}

// SanitizeFilename strips path separators and null bytes from a tarball
// filename, per §4.3.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\x00", "")
	filename = strings.ReplaceAll(filename, "/", "")
	filename = strings.ReplaceAll(filename, "\\", "")
	filename = strings.ReplaceAll(filename, "..", "")
	return filename
}

// StorageSegment maps a package name to the single filesystem segment
// under the storage root, collapsing a scoped name's "/" into "-" so
// "@scope/name" and "scope-name" can't collide with each other while
// staying a single directory component.
//
// Grounded on the teacher's internal/npm.extractNamespace, which
// recognizes the same "@scope/name" shape when splitting npm package
// identifiers.
func StorageSegment(name string) string {
	name = SanitizeName(name)
	if strings.HasPrefix(name, "@") {
		return "@" + strings.ReplaceAll(name[1:], "/", "-")
	}
	return strings.ReplaceAll(name, "/", "-")
}

// Scope returns the "@scope" portion of a scoped package name, or "" if
// the name is unscoped.
func Scope(name string) string {
	if strings.HasPrefix(name, "@") && strings.Contains(name, "/") {
		parts := strings.SplitN(name, "/", 2)
		return parts[0]
	}
	return ""
}
