package calc

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory builds a calculator for one instance. Factories reject parameters
// the variant cannot handle so stages fail before any worker is spawned.
type Factory func(Params) (Calculator, error)

// Registry maps (kind, variant) pairs to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// NewRegistry returns a registry preloaded with the reference calculators.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Kind]map[string]Factory)}
	r.Register(KindCanon, "direct", newCanonFactory(false))
	r.Register(KindCanon, "smart", newCanonFactory(true))
	r.Register(KindCertificate, "sha", newCertificate)
	r.Register(KindSubtExtr, "direct", newSubtExtrFactory(func() SubtourCheck { return &directSubtour{} }))
	r.Register(KindSubtExtr, "matrix", newSubtExtrFactory(func() SubtourCheck { return &matrixSubtour{} }))
	r.Register(KindGap, "simplex", newSimplexGap)
	return r
}

// Register installs or replaces the factory for kind and variant.
func (r *Registry) Register(kind Kind, variant string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	variants, ok := r.factories[kind]
	if !ok {
		variants = make(map[string]Factory)
		r.factories[kind] = variants
	}
	variants[strings.ToLower(variant)] = factory
}

// New builds the calculator registered for kind and variant, wrapped so each
// result also carries its CPU time in the timings table.
func (r *Registry) New(kind Kind, variant string, params Params) (Calculator, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind][strings.ToLower(variant)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s calculator named %q (available: %s)", kind, variant, strings.Join(r.Variants(kind), ", "))
	}
	calculator, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", kind, variant, err)
	}
	return Timed(kind, calculator), nil
}

// Variants lists the registered variants for kind, sorted.
func (r *Registry) Variants(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[kind]))
	for name := range r.factories[kind] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tag renders a compact label for a set of chosen variants, e.g.
// "canon=smart cert=sha subt_extr=direct gap=simplex".
func Tag(variants map[Kind]string) string {
	parts := make([]string, 0, len(variants))
	for _, kind := range Kinds() {
		variant, ok := variants[kind]
		if !ok {
			continue
		}
		label := string(kind)
		if kind == KindCertificate {
			label = "cert"
		}
		parts = append(parts, label+"="+variant)
	}
	return strings.Join(parts, " ")
}
