package depmap

import (
	"runtime"
	"sync"
	"weak"

	"github.com/cealn-go/cealn/filehash"
)

// Registry is the process-wide weakly-held depmap registry (§3
// Lifecycles): entries are reclaimed once no query result references
// them. Implemented with a mutex-guarded map of DepmapHash -> weak.Pointer, with a
// runtime.AddCleanup-registered callback that evicts the map entry once
// the referenced Depmap is collected. Go has no first-class phantom weak
// references pre-1.24; weak.Pointer plus AddCleanup is the idiomatic 1.24+
// substitute, recorded as the resolution of the corresponding Open
// Question in DESIGN.md.
type Registry struct {
	mu      sync.Mutex
	entries map[filehash.Hash]weak.Pointer[Depmap]
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[filehash.Hash]weak.Pointer[Depmap])}
}

// Register records d under its hash, deduplicating by hash: if an
// equivalent depmap is already live in the registry, the existing pointer
// is returned instead of d, so depmaps equal by hash share one allocation.
func (r *Registry) Register(d *Depmap) *Depmap {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.entries[d.hash]; ok {
		if existing := wp.Value(); existing != nil {
			return existing
		}
	}

	r.entries[d.hash] = weak.Make(d)
	h := d.hash
	runtime.AddCleanup(d, func(hash filehash.Hash) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if wp, ok := r.entries[hash]; ok && wp.Value() == nil {
			delete(r.entries, hash)
		}
	}, h)
	return d
}

// Lookup returns the live depmap registered under hash, if any.
func (r *Registry) Lookup(hash filehash.Hash) (*Depmap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.entries[hash]
	if !ok {
		return nil, false
	}
	d := wp.Value()
	if d == nil {
		delete(r.entries, hash)
		return nil, false
	}
	return d, true
}

// Len returns the number of currently-live registered depmaps (for
// introspection/metrics, not part of the core contract).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, wp := range r.entries {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}
