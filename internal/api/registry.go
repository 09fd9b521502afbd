package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/celerix-dev/celerix-favorites/internal/metrics"
	"github.com/celerix-dev/celerix-favorites/pkg/bridge"
	"github.com/celerix-dev/celerix-favorites/pkg/favorites"
	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
)

// DefaultFavoritesApp is the app the daemon keeps favorites under.
const DefaultFavoritesApp = "celerix"

// ErrRegistryClosed is returned once the registry has been closed.
var ErrRegistryClosed = errors.New("favorites registry closed")

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Store sdk.KVStore
	// App is the app every persona's favorites live under.
	App string
	// Options is the template for every manager. Channel is filled in per
	// persona when Sync is set and Store can be watched.
	Options favorites.Options
	// MasterKey, when set, encrypts the persisted lists.
	MasterKey []byte
	// Catalog, when set, names an app of Store whose entries enrich loads.
	Catalog string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Registry lazily creates one favorites manager per persona.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.Mutex
	managers map[string]*favorites.Manager
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.App == "" {
		cfg.App = DefaultFavoritesApp
	}
	if cfg.Options.Key == "" {
		cfg.Options.Key = favorites.DefaultKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Options.Logger = logger
	return &Registry{
		cfg:      cfg,
		logger:   logger.With("component", "favorites_registry"),
		managers: make(map[string]*favorites.Manager),
	}
}

// Manager returns the manager for persona, creating and loading it on first
// use.
func (r *Registry) Manager(ctx context.Context, persona string) (*favorites.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.managers[persona]; ok {
		return m, nil
	}

	var storageOpts []sdk.StorageOption
	if r.cfg.MasterKey != nil {
		storageOpts = append(storageOpts, sdk.WithVault(r.cfg.MasterKey))
	}
	kv := sdk.NewKVStorage(r.cfg.Store, persona, r.cfg.App, r.cfg.Options.Key, storageOpts...)

	var storage bridge.Storage = kv
	if r.cfg.Catalog != "" {
		storage = sdk.EnrichedStorage{Storage: kv, Enrich: sdk.CatalogEnricher(r.cfg.Store, persona, r.cfg.Catalog)}
	}
	if r.cfg.Metrics != nil {
		storage = metrics.InstrumentStorage(storage, r.cfg.Metrics)
	}

	opts := r.cfg.Options
	if opts.Sync {
		if w, ok := r.cfg.Store.(sdk.Watcher); ok {
			opts.Channel = sdk.NewWatchChannel(w, persona, r.cfg.App, kv.Origin())
		} else {
			r.logger.Warn("store cannot be watched, favorites sync disabled", "persona", persona)
			opts.Sync = false
		}
	}

	m, err := favorites.New(storage, opts)
	if err != nil {
		return nil, err
	}
	if r.cfg.Metrics != nil {
		m.Subscribe(r.cfg.Metrics.Listener(persona), false)
	}
	// The manager outlives the request that created it. A failed load is
	// not cached so an empty set never overwrites the stored list.
	if _, err := m.TryLoad(context.WithoutCancel(ctx)); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("persona %s: %w", persona, err)
	}

	r.managers[persona] = m
	r.logger.Debug("favorites manager created", "persona", persona, "count", m.Count())
	return m, nil
}

// Personas lists the personas with a live manager.
func (r *Registry) Personas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.managers))
}

// Close destroys every manager, flushing pending saves. Further calls to
// Manager fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	managers := r.managers
	r.managers = make(map[string]*favorites.Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Destroy()
	}
}
