package storage

import (
	"errors"
	"io/fs"

	"github.com/git-pkgs/regcache/internal/core"
)

// translateReadErr maps an os/io error from a manifest or tarball read
// into the domain taxonomy (§7): missing file becomes NotFoundError,
// anything else is returned unwrapped for the caller to treat as
// InternalError.
func translateReadErr(err error, name, version, filename string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &core.NotFoundError{Package: name, Version: version, Filename: filename}
	}
	return err
}
