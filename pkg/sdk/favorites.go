package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/celerix-dev/celerix-favorites/internal/vault"
	"github.com/celerix-dev/celerix-favorites/pkg/bridge"
	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/google/uuid"
)

// KVStorage persists a favorites list under one persona/app/key of a store.
// It implements bridge.Storage.
type KVStorage struct {
	store     KVStore
	personaID string
	appID     string
	key       string
	origin    string
	masterKey []byte
}

// StorageOption configures a KVStorage.
type StorageOption func(*KVStorage)

// WithOrigin sets the origin tag used for writes. Defaults to a random UUID.
func WithOrigin(origin string) StorageOption {
	return func(s *KVStorage) { s.origin = origin }
}

// WithVault encrypts the persisted list with masterKey.
func WithVault(masterKey []byte) StorageOption {
	return func(s *KVStorage) { s.masterKey = masterKey }
}

// NewKVStorage returns storage for the favorites list at personaID/appID/key.
func NewKVStorage(store KVStore, personaID, appID, key string, opts ...StorageOption) *KVStorage {
	s := &KVStorage{
		store:     store,
		personaID: personaID,
		appID:     appID,
		key:       key,
		origin:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Origin is the tag this storage writes with. A WatchChannel with the same
// origin does not report these writes.
func (s *KVStorage) Origin() string { return s.origin }

// Load reads the persisted list. A missing key is an empty list.
func (s *KVStorage) Load(ctx context.Context) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := s.store.Get(s.personaID, s.appID, s.key)
	if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrAppNotFound) || errors.Is(err, ErrPersonaNotFound) {
		return []any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s/%s: %w", s.personaID, s.appID, s.key, err)
	}

	if s.masterKey != nil {
		ciphertext, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("load %s: vault data is not a string", s.key)
		}
		var items []any
		if err := vault.DecryptJSON(ciphertext, s.masterKey, &items); err != nil {
			return nil, fmt.Errorf("load %s: %w", s.key, err)
		}
		return items, nil
	}
	return toItems(val)
}

// Save replaces the persisted list.
func (s *KVStorage) Save(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var val any = slices.Clone(ids)
	if s.masterKey != nil {
		ciphertext, err := vault.EncryptJSON(ids, s.masterKey)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", s.key, err)
		}
		val = ciphertext
	}

	if ow, ok := s.store.(OriginWriter); ok {
		return ow.SetAs(s.origin, s.personaID, s.appID, s.key, val)
	}
	return s.store.Set(s.personaID, s.appID, s.key, val)
}

// toItems accepts the shapes a list takes in memory, after a JSON round trip
// or as a JSON string.
func toItems(val any) ([]any, error) {
	switch v := val.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case []string:
		items := make([]any, len(v))
		for i, id := range v {
			items[i] = id
		}
		return items, nil
	case string:
		var items []any
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return nil, fmt.Errorf("favorites value is not a list: %w", err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("favorites value has unexpected type %T", val)
}

// EnrichFunc attaches details to loaded entries.
type EnrichFunc func(ctx context.Context, items []any) ([]any, error)

// EnrichedStorage adds an enrichment step to a bridge.Storage.
type EnrichedStorage struct {
	bridge.Storage
	Enrich EnrichFunc
}

// LoadWithEnrichment implements bridge.EnrichedLoader.
func (e EnrichedStorage) LoadWithEnrichment(ctx context.Context, items []any) ([]any, error) {
	return e.Enrich(ctx, items)
}

// CatalogEnricher looks every favorite up in a catalog app of the same
// store and returns {"id": ..., "details": ...} entries. Unknown IDs keep
// their bare identifier.
func CatalogEnricher(store KVReader, personaID, catalogApp string) EnrichFunc {
	return func(ctx context.Context, items []any) ([]any, error) {
		out := make([]any, 0, len(items))
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			id, ok := item.(string)
			if !ok {
				out = append(out, item)
				continue
			}
			details, err := store.Get(personaID, catalogApp, id)
			switch {
			case err == nil:
				out = append(out, map[string]any{"id": id, "details": details})
			case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrAppNotFound), errors.Is(err, ErrPersonaNotFound):
				out = append(out, id)
			default:
				return nil, err
			}
		}
		return out, nil
	}
}

// WatchChannel reports changes to one persona/app of a watching store,
// skipping writes tagged with its own origin. It implements bridge.Channel.
//
// Changes are delivered on a goroutine per subscription, never on the
// writer's goroutine, and bursts for the same key collapse into the latest.
type WatchChannel struct {
	watcher   Watcher
	personaID string
	appID     string
	origin    string
	logger    *slog.Logger
}

// NewWatchChannel returns a channel over watcher for personaID/appID.
func NewWatchChannel(watcher Watcher, personaID, appID, origin string) *WatchChannel {
	return &WatchChannel{
		watcher:   watcher,
		personaID: personaID,
		appID:     appID,
		origin:    origin,
		logger:    slog.Default().With("component", "watch_channel", "persona", personaID, "app", appID),
	}
}

// Subscribe implements bridge.Channel.
func (w *WatchChannel) Subscribe(fn func(bridge.Change)) (func(), error) {
	if w.watcher == nil {
		return nil, errors.New("store does not support watching")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]bridge.Change)
		signal  = make(chan struct{}, 1)
		done    = make(chan struct{})
	)

	cancel := w.watcher.Watch(func(c engine.Change) {
		if c.PersonaID != w.personaID || c.AppID != w.appID || c.Origin == w.origin {
			return
		}
		mu.Lock()
		pending[c.Key] = bridge.Change{Key: c.Key, Value: c.Value}
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-signal:
			}
			mu.Lock()
			batch := pending
			pending = make(map[string]bridge.Change)
			mu.Unlock()

			for _, key := range slices.Sorted(maps.Keys(batch)) {
				select {
				case <-done:
					return
				default:
				}
				w.deliver(fn, batch[key])
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			close(done)
		})
	}, nil
}

func (w *WatchChannel) deliver(fn func(bridge.Change), c bridge.Change) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("change handler panicked", "key", c.Key, "panic", r)
		}
	}()
	fn(c)
}
