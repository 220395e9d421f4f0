// Package plugin models the checker/prioritizer capability interface the
// core dispatches through, and the process-wide name-to-implementation
// registry that backs it (Design Note 9.2). Concrete checkers and
// prioritizers (TUR, directio, EMC-specific, ALUA, NVMe-ANA, ...) are
// external collaborators out of scope here; this package only carries
// the dispatch surface and registration machinery they plug into.
package plugin

import (
	"fmt"
	"sync"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// Handle is an opaque, plugin-owned context token returned by Init and
// threaded through every subsequent call, mirroring the source's
// void *context per-path state.
type Handle interface{}

// Checker is the uniform capability interface a path-checker plugin
// implements: init allocates a handle, check reports the path's current
// state, free releases the handle.
type Checker interface {
	Init(p *topology.Path) (Handle, error)
	Check(h Handle) (topology.CheckerState, error)
	Free(h Handle)
}

// Prioritizer is the uniform capability interface a prioritizer plugin
// implements.
type Prioritizer interface {
	Init(p *topology.Path) (Handle, error)
	GetPrio(h Handle) (int, error)
	Free(h Handle)
}

// registry is the process-wide name-to-vtable map populated at startup;
// statically linkable implementations register themselves from an init
// function, so no dlopen-equivalent is required.
type registry struct {
	mu           sync.RWMutex
	checkers     map[string]Checker
	prioritizers map[string]Prioritizer
}

var global = &registry{
	checkers:     make(map[string]Checker),
	prioritizers: make(map[string]Prioritizer),
}

// RegisterChecker installs a checker implementation under name, which
// propsel's checker-selection string refers to. Re-registering a name
// overwrites the previous registration; this lets tests substitute fakes.
func RegisterChecker(name string, c Checker) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.checkers[name] = c
}

// RegisterPrioritizer installs a prioritizer implementation under name.
func RegisterPrioritizer(name string, p Prioritizer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.prioritizers[name] = p
}

// LookupChecker resolves name to its registered implementation.
func LookupChecker(name string) (Checker, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	c, ok := global.checkers[name]
	if !ok {
		return nil, fmt.Errorf("plugin: no checker registered under %q", name)
	}
	return c, nil
}

// LookupPrioritizer resolves name to its registered implementation.
func LookupPrioritizer(name string) (Prioritizer, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	p, ok := global.prioritizers[name]
	if !ok {
		return nil, fmt.Errorf("plugin: no prioritizer registered under %q", name)
	}
	return p, nil
}

// CheckerNames returns every currently registered checker name, for
// config validation and diagnostics.
func CheckerNames() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]string, 0, len(global.checkers))
	for name := range global.checkers {
		out = append(out, name)
	}
	return out
}

// PrioritizerNames returns every currently registered prioritizer name.
func PrioritizerNames() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]string, 0, len(global.prioritizers))
	for name := range global.prioritizers {
		out = append(out, name)
	}
	return out
}
