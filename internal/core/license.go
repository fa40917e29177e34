package core

import "strings"

// ExtractLicense normalizes the handful of shapes an uplink's version
// metadata uses for its license field (npm's string/object/array union,
// SPDX expression strings, or nothing at all) into a single string
// suitable for SPDX parsing by internal/filter's license filter.
//
// Grounded on the teacher's internal/npm.extractLicense, generalized
// from npm's specific "license"/"licenses" JSON union to the
// map[string]any shape VersionEntry.Metadata already carries.
func ExtractLicense(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		if t, ok := l["type"].(string); ok {
			return t
		}
	case []any:
		var licenses []string
		for _, item := range l {
			switch li := item.(type) {
			case string:
				licenses = append(licenses, li)
			case map[string]any:
				if t, ok := li["type"].(string); ok {
					licenses = append(licenses, t)
				}
			}
		}
		return strings.Join(licenses, " OR ")
	}
	return ""
}

// ExtractKeywords normalizes a version's "keywords" metadata field.
func ExtractKeywords(v any) []string {
	switch k := v.(type) {
	case []any:
		keywords := make([]string, 0, len(k))
		for _, item := range k {
			if s, ok := item.(string); ok && s != "" {
				keywords = append(keywords, s)
			}
		}
		return keywords
	case []string:
		return k
	}
	return nil
}
