package uplink

import (
	"context"
	"fmt"
	"io"
)

// Tarball is the result of fetching an artifact body from an uplink.
// The caller must close Body.
type Tarball struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// FetchTarball downloads the tarball at url through this uplink's
// circuit breaker. url is the original upstream dist.tarball value
// stored on the manifest's DistFile, not necessarily under BaseURL
// (ad-hoc uplinks synthesize one per §9 DESIGN NOTES).
func (u *Uplink) FetchTarball(ctx context.Context, url string) (*Tarball, error) {
	artifact, err := u.cb.FetchWithKey(ctx, u.Name, url)
	if err != nil {
		if TimeoutClass(err) {
			return nil, fmt.Errorf("uplink %s: fetching tarball: %w", u.Name, &TimeoutError{Uplink: u.Name, Err: err})
		}
		return nil, fmt.Errorf("uplink %s: fetching tarball: %w", u.Name, err)
	}

	return &Tarball{
		Body:        artifact.Body,
		Size:        artifact.Size,
		ContentType: artifact.ContentType,
	}, nil
}
