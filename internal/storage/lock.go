package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/git-pkgs/regcache/internal/core"
)

// lockTable is the process-wide advisory-lock registry from §5's
// "Shared resources" table: one *flock.Flock per manifest lock-file
// path ("<manifest>.lock"), so two UpdatePackage calls for the same package — even from
// different Backend instances sharing a storage root — serialize
// through the same OS-level lock instead of racing.
type lockTable struct {
	locks sync.Map // path -> *flock.Flock
}

var globalLocks lockTable

func (t *lockTable) get(path string) *flock.Flock {
	if l, ok := t.locks.Load(path); ok {
		return l.(*flock.Flock)
	}
	l, _ := t.locks.LoadOrStore(path, flock.New(path))
	return l.(*flock.Flock)
}

// acquireExclusive takes the exclusive lock on path, polling every 25ms
// until budget elapses, then returns a *core.ResourceUnavailableError
// (the taxonomy's EAGAIN row, §7).
func acquireExclusive(ctx context.Context, path string, budget time.Duration) (*flock.Flock, error) {
	l := globalLocks.get(path)

	lockCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	locked, err := l.TryLockContext(lockCtx, 25*time.Millisecond)
	if locked {
		return l, nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, &core.ResourceUnavailableError{Path: path, Err: err}
	}
	return nil, &core.ResourceUnavailableError{Path: path, Err: errEAGAIN}
}

var errEAGAIN = errors.New("resource temporarily unavailable (EAGAIN)")
