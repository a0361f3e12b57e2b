package signal

import (
	"maps"
	"slices"

	"hashmatch/internal/pkg/index"
)

// Registry is the fixed set of signal types known to the process. It is
// built once at startup and is read-only afterwards.
type Registry struct {
	types map[string]Type
}

// NewRegistry returns a registry holding types. Later duplicates win.
func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type, len(types))}
	for _, t := range types {
		r.types[t.Name()] = t
	}
	return r
}

// Options tunes the built-in types.
type Options struct {
	Thresholds    map[string]int
	MIHMinEntries int
}

// NewDefaultRegistry returns the built-in types with per-type threshold
// overrides applied.
func NewDefaultRegistry(opts Options) *Registry {
	pdq := PDQ{Threshold: PDQDefaultThreshold, MIHMinEntries: DefaultMIHMinEntries}
	if t, ok := opts.Thresholds[PDQName]; ok {
		pdq.Threshold = index.ClampThreshold(t)
	}
	if opts.MIHMinEntries > 0 {
		pdq.MIHMinEntries = opts.MIHMinEntries
	}
	return NewRegistry(pdq, VideoMD5{})
}

// Get returns the named type.
func (r *Registry) Get(name string) (Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.types))
}

// All returns a copy of the name to type mapping.
func (r *Registry) All() map[string]Type {
	return maps.Clone(r.types)
}

// NewIndexBuilder returns a builder sized for n entries of type st.
func NewIndexBuilder(st Type, n int) (*index.Builder, error) {
	return index.NewBuilder(st.IndexKind(n))
}
