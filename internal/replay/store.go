package replay

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultRouteCacheSize is the number of resolved routes kept by the default store.
const DefaultRouteCacheSize = 16

// Store is the persistence abstraction for route state.
// The Repository uses Store for all reads and writes and serializes access to it.
type Store interface {
	GetRoute(key string) (*RouteState, bool)
	PeekRoute(key string) (*RouteState, bool)
	SetRoute(st *RouteState)
	DeleteRoute(key string) bool
	ListRouteKeys() []string
	Purge()
}

// InMemoryStore keeps the most recently used routes in memory. A route that
// is evicted, deleted or purged is handed to the eviction callback.
type InMemoryStore struct {
	routes *lru.Cache
}

// NewInMemoryStore returns an empty store holding at most size routes.
// onEvict may be nil.
func NewInMemoryStore(size int, onEvict func(*RouteState)) (*InMemoryStore, error) {
	if size <= 0 {
		size = DefaultRouteCacheSize
	}
	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		if onEvict != nil {
			onEvict(value.(*RouteState))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create route cache: %w", err)
	}
	return &InMemoryStore{routes: cache}, nil
}

// GetRoute implements Store.GetRoute and marks the route as recently used.
func (s *InMemoryStore) GetRoute(key string) (*RouteState, bool) {
	v, ok := s.routes.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*RouteState), true
}

// SetRoute implements Store.SetRoute. It may evict the least recently used route.
func (s *InMemoryStore) SetRoute(st *RouteState) {
	s.routes.Add(st.Key, st)
}

// DeleteRoute implements Store.DeleteRoute.
func (s *InMemoryStore) DeleteRoute(key string) bool {
	return s.routes.Remove(key)
}

// ListRouteKeys implements Store.ListRouteKeys, oldest first.
func (s *InMemoryStore) ListRouteKeys() []string {
	keys := s.routes.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}

// Purge implements Store.Purge.
func (s *InMemoryStore) Purge() {
	s.routes.Purge()
}

// PeekRoute implements Store.PeekRoute without marking the route as recently used.
func (s *InMemoryStore) PeekRoute(key string) (*RouteState, bool) {
	v, ok := s.routes.Peek(key)
	if !ok {
		return nil, false
	}
	return v.(*RouteState), true
}
