package filter

import (
	"fmt"

	spdx "github.com/git-pkgs/spdx"

	"github.com/git-pkgs/regcache/internal/core"
)

func init() {
	Register("strip-attachments", StripAttachments)
	Register("spdx-license", SPDXLicense)
}

// StripAttachments clears _attachments, the one piece of normalization
// §4.4 step 6 always performs regardless of which optional filters are
// configured. Registered as a filter (rather than inlined in the engine)
// so it composes with user-registered filters in the same serial chain.
func StripAttachments(m *core.Manifest) error {
	m.ClearAttachments()
	return nil
}

// SPDXLicense parses each version's "license"/"licenses" metadata field
// as an SPDX license expression and rewrites it to SPDX's canonical
// form, using github.com/git-pkgs/spdx — a direct dependency of the
// teacher's go.mod that no retrieved teacher file actually imports.
//
// A version whose license string fails to parse is left untouched; the
// first parse failure is returned so the merge engine can record it as
// a core.FilterError without aborting the rest of the merge.
func SPDXLicense(m *core.Manifest) error {
	var firstErr error
	for version, entry := range m.Versions {
		raw, ok := entry.Metadata["license"]
		if !ok {
			raw, ok = entry.Metadata["licenses"]
		}
		if !ok {
			continue
		}

		license := core.ExtractLicense(raw)
		if license == "" {
			continue
		}

		expr, err := spdx.Parse(license)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("version %s: %w", version, err)
			}
			continue
		}

		entry.Metadata["license"] = expr.String()
	}
	return firstErr
}
