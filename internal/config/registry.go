package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/station"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// StoreFactory opens a home station store. The returned close function
// releases its connections and may be nil.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (store preference.Store, closeFn func() error, err error)

// CatalogFactory loads the station catalog.
type CatalogFactory func(cfg CatalogConfig) (*station.Catalog, error)

// Registry maps store backend and catalog source names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stores   map[StoreBackend]StoreFactory
	catalogs map[CatalogSource]CatalogFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores:   make(map[StoreBackend]StoreFactory),
		catalogs: make(map[CatalogSource]CatalogFactory),
	}
}

// RegisterStore registers a store factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(name StoreBackend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// RegisterCatalog registers a catalog factory under name.
func (r *Registry) RegisterCatalog(name CatalogSource, factory CatalogFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs[name] = factory
}

// CreateStore opens the store registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateStore(ctx context.Context, cfg StoreConfig) (preference.Store, func() error, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: store/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// CreateCatalog loads the catalog registered under cfg.Source.
func (r *Registry) CreateCatalog(cfg CatalogConfig) (*station.Catalog, error) {
	r.mu.RLock()
	factory, ok := r.catalogs[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: catalog/%q", ErrBackendNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// StoreBackends returns the registered store names in sorted order.
func (r *Registry) StoreBackends() []StoreBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]StoreBackend, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
