// Package registry is the compiled-in module registration table.
// Built-in module packages register a constructor under their manifest
// name from an init() function, the same way database/sql drivers and
// image decoders register themselves; internal/discovery looks
// constructors up by name when building a module it found on disk.
// Every module this binary can run is named once, here, at compile time.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eidolon/eidolon/internal/module"
)

var (
	mu      sync.RWMutex
	factories = make(map[string]module.Factory)
)

// Register associates name (a module.yaml's `name:` field) with a
// Factory. Called from a built-in module package's init(); panics on a
// duplicate name since that only happens from a programming mistake at
// compile time, never from user input.
func Register(name string, factory module.Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("registry: module %q already registered", name))
	}
	factories[name] = factory
}

// Lookup returns the registered Factory for name, if any.
func Lookup(name string) (module.Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names returns every registered module name, sorted, for diagnostics
// such as the `eidolon probe` unknown-module error.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
