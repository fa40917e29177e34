package facade

import (
	"context"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/regcache/internal/core"
)

// GetPackageByPURL resolves a Package URL (pkg:npm/%40scope/name@1.2.3)
// to a manifest or single version, reusing git-pkgs/purl's
// scoped-name-splitting convention the way the teacher's root package
// did for ParsePURL/NewFromPURL: the namespace and name are rejoined
// into the "@scope/name" form the storage backend keys packages under,
// and a version segment on the PURL is carried through as
// GetPackageOptions.Version.
func (f *Facade) GetPackageByPURL(ctx context.Context, purlStr string, opts GetPackageOptions) (*core.Manifest, *core.VersionEntry, error) {
	p, err := purl.Parse(purlStr)
	if err != nil {
		return nil, nil, err
	}

	name := fullName(p)
	if opts.Version == "" {
		opts.Version = p.Version
	}
	return f.GetPackageByOptions(ctx, name, opts)
}

// fullName rejoins a parsed PURL's namespace and name into the
// package-name form manifests are keyed under, mirroring the npm-scope
// branch of the teacher's PURL.FullName (internal/core/purl.go).
func fullName(p *purl.PURL) string {
	if p.Namespace == "" {
		return p.Name
	}
	return p.Namespace + "/" + p.Name
}
