package replay

import (
	"errors"
	"sync"
)

// Repository defines the concurrency-safe contract for accessing resolved
// routes and their segments.
type Repository interface {
	// GetRoute returns the route stored under its canonical key.
	GetRoute(key string) (*RouteState, bool)

	// PutRoute stores st unless a route with the same key is already stored,
	// in which case the stored route is returned instead.
	PutRoute(st *RouteState) *RouteState

	// DeleteRoute removes the route and closes its segments. It reports
	// whether the route was stored.
	DeleteRoute(key string) bool

	// ActiveSegmentCount returns the number of segments held by stored routes.
	// Used for metrics.
	ActiveSegmentCount() int

	// Close removes every route and closes its segments.
	Close()
}

var (
	// ErrRouteNotLoaded is returned for a route that was never loaded, or
	// was closed or evicted.
	ErrRouteNotLoaded = errors.New("route not loaded")

	// ErrSegmentNotFound is returned for a segment number the route does not
	// have, or one that was never loaded.
	ErrSegmentNotFound = errors.New("segment not found")
)

// InMemoryRepository is a concurrency-safe implementation of Repository
// backed by a Store. Routes leaving the store are closed.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a repository holding at most size routes.
func NewInMemoryRepository(size int) (*InMemoryRepository, error) {
	store, err := NewInMemoryStore(size, (*RouteState).close)
	if err != nil {
		return nil, err
	}
	return NewInMemoryRepositoryWithStore(store), nil
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given
// Store. The store is responsible for closing routes it drops.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// GetRoute implements Repository.GetRoute. It takes the write lock because
// the store records recency on reads.
func (r *InMemoryRepository) GetRoute(key string) (*RouteState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.GetRoute(key)
}

// PutRoute implements Repository.PutRoute.
func (r *InMemoryRepository) PutRoute(st *RouteState) *RouteState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.store.GetRoute(st.Key); ok {
		return cur
	}
	r.store.SetRoute(st)
	return st
}

// DeleteRoute implements Repository.DeleteRoute.
func (r *InMemoryRepository) DeleteRoute(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.DeleteRoute(key)
}

// ActiveSegmentCount implements Repository.ActiveSegmentCount.
func (r *InMemoryRepository) ActiveSegmentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, key := range r.store.ListRouteKeys() {
		if st, ok := r.store.PeekRoute(key); ok {
			n += st.segmentCount()
		}
	}
	return n
}

// Close implements Repository.Close.
func (r *InMemoryRepository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Purge()
}
