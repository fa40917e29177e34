package tarball

import (
	"net/url"

	"github.com/git-pkgs/regcache/internal/uplink"
)

// AdHoc synthesizes an ephemeral uplink bound to a single tarball URL,
// per §9 DESIGN NOTES: "when _distfiles points to a host with no
// matching configured uplink, an ephemeral uplink is synthesized...
// always have caching enabled and do not participate in future
// manifest syncs." Leaving ProxyAccess nil here is safe precisely
// because this Uplink is never added to a merge.Engine's uplink list —
// it exists only for the single FetchTarball call that created it.
func AdHoc(tarballURL string) *uplink.Uplink {
	base := tarballURL
	if u, err := url.Parse(tarballURL); err == nil && u.Scheme != "" && u.Host != "" {
		base = u.Scheme + "://" + u.Host
	}
	return uplink.New("adhoc:"+base, base, uplink.WithCache(true))
}
