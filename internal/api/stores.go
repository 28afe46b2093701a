package api

import (
	"fmt"
	"sync"

	"github.com/micro-nova/statekit/internal/storage"
	"github.com/micro-nova/statekit/internal/store"
)

type storeID struct {
	kind storage.Kind
	key  string
}

// Stores lazily creates one JSON-valued store per (area, key). Stores start
// from a null initial value.
type Stores struct {
	mu      sync.Mutex
	areas   map[storage.Kind]storage.Area
	entries map[storeID]*store.Store[any]
}

// NewStores serves the given durable and session areas.
func NewStores(durable, session storage.Area) *Stores {
	return &Stores{
		areas: map[storage.Kind]storage.Area{
			storage.Durable:       durable,
			storage.SessionScoped: session,
		},
		entries: make(map[storeID]*store.Store[any]),
	}
}

// Get returns the store for key in the area of the given kind.
func (s *Stores) Get(kind storage.Kind, key string) (*store.Store[any], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := storeID{kind: kind, key: key}
	if st, ok := s.entries[id]; ok {
		return st, nil
	}
	area, ok := s.areas[kind]
	if !ok {
		return nil, fmt.Errorf("api: no %s area", kind)
	}
	st, err := store.New[any](key, nil, area)
	if err != nil {
		return nil, err
	}
	s.entries[id] = st
	return st, nil
}

// Close closes every store. The areas are left open.
func (s *Stores) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.entries {
		st.Close()
		delete(s.entries, id)
	}
}
