// Package filter implements the pluggable manifest transformers applied
// by the merge engine in SPEC_FULL.md §4.4 step 5. The registry mirrors
// the teacher's internal/core.Register/New global-factory pattern
// exactly, generalized from "ecosystem name -> Registry factory" to
// "filter name -> Filter".
package filter

import (
	"fmt"
	"sync"

	"github.com/git-pkgs/regcache/internal/core"
)

// Filter transforms a merged manifest in place. A filter may mutate the
// manifest; returning an error records a FilterError but never aborts
// the merge (§4.4 step 5, §7).
type Filter func(m *core.Manifest) error

var (
	registry = make(map[string]Filter)
	mu       sync.RWMutex
)

// Register adds a filter under name. Re-registering a name overwrites
// the previous filter, matching the teacher's Register semantics.
func Register(name string, f Filter) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Get returns the filter registered under name, if any.
func Get(name string) (Filter, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns every registered filter name.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// All returns every registered filter, in no particular order. Callers
// that need a stable order (the merge engine applies filters serially
// per §4.4 step 5) should sort Names() themselves and look each one up.
func All() map[string]Filter {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]Filter, len(registry))
	for name, f := range registry {
		out[name] = f
	}
	return out
}

// Apply runs a named filter and wraps any error as a core.FilterError.
func Apply(name string, f Filter, m *core.Manifest) error {
	if err := f(m); err != nil {
		return fmt.Errorf("%w", &core.FilterError{Filter: name, Err: err})
	}
	return nil
}
