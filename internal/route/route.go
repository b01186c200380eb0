package route

import (
	"context"
	"sync"
)

// Route is a named drive route and, once loaded, its manifest.
type Route struct {
	input    string
	dataDir  string
	resolver *Resolver

	mu       sync.RWMutex
	id       Identifier
	manifest *Manifest
}

// New returns an unloaded Route. An empty dataDir resolves through the
// remote index. A nil resolver gets NewResolver().
func New(input, dataDir string, resolver *Resolver) *Route {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Route{input: input, dataDir: dataDir, resolver: resolver}
}

// Load parses the route name and resolves its manifest. It blocks until the
// resolution finishes and may be called again after a failure.
func (r *Route) Load(ctx context.Context) error {
	id, err := Parse(r.input)
	if err != nil {
		return err
	}
	m, err := r.resolver.Resolve(ctx, id, r.dataDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.id = id
	r.manifest = m
	r.mu.Unlock()
	return nil
}

// Identifier returns the parsed identifier, zero until Load succeeds.
func (r *Route) Identifier() Identifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// Dir is the local data directory, empty for remote routes.
func (r *Route) Dir() string {
	return r.dataDir
}

// Manifest returns the resolved manifest, nil until Load succeeds.
func (r *Route) Manifest() *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// Segments returns the resolved segment numbers in ascending order.
func (r *Route) Segments() []int {
	return r.Manifest().Segments()
}
