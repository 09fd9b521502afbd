// Package bridge connects an in-memory favorites set to an external key/value
// store. It coalesces writes through a debounce window and relays out-of-band
// changes to the persisted key from other writers.
//
// The Bridge never owns the favorites set. It only moves plain identifier
// lists in and out of storage, and it never returns storage failures as
// panics or errors on the write path: they are logged and the in-memory state
// stays authoritative until the next successful write or load.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDestroyed is returned by SaveNow after Destroy.
var ErrDestroyed = errors.New("bridge destroyed")

// Storage is the required persistence collaborator.
type Storage interface {
	// Load returns the raw persisted entries.
	Load(ctx context.Context) ([]any, error)
	// Save replaces the persisted entries.
	Save(ctx context.Context, ids []string) error
}

// EnrichedLoader is an optional Storage capability. When present the Bridge
// passes loaded entries through it before returning them. What enrichment
// means is up to the implementation.
type EnrichedLoader interface {
	LoadWithEnrichment(ctx context.Context, items []any) ([]any, error)
}

// Change is a notification that a persisted key was modified by another writer.
type Change struct {
	// Key is the modified key. An empty key is a broad refresh signal and
	// is ignored.
	Key string
	// Value is the new value as seen by the channel, if known.
	Value any
	// Err reports a failure of the channel itself.
	Err error
}

// Channel delivers Changes made by other writers. Implementations must not
// report the subscriber's own writes.
type Channel interface {
	Subscribe(fn func(Change)) (unsubscribe func(), err error)
}

// Config configures a Bridge.
type Config struct {
	// Key is the persisted key this bridge watches.
	Key string
	// Debounce is the coalescing window for ScheduleSave. 0 writes immediately.
	Debounce time.Duration
	// Channel is optional; without it no external changes are reported.
	Channel Channel
	Logger  *slog.Logger
}

// Bridge wraps a Storage with debounced writes and change detection.
type Bridge struct {
	storage  Storage
	key      string
	debounce time.Duration
	channel  Channel
	logger   *slog.Logger
	task     *Task

	writeMu sync.Mutex // serializes Storage.Save calls
	seq     atomic.Uint64
	written uint64 // highest sequence attempted; guarded by writeMu

	mu          sync.Mutex
	onChange    func(forced bool)
	unsubscribe func()
	destroyed   bool
}

// New creates a Bridge around storage.
func New(storage Storage, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		storage:  storage,
		key:      cfg.Key,
		debounce: cfg.Debounce,
		channel:  cfg.Channel,
		logger:   logger.With("component", "favorites_bridge", "key", cfg.Key),
		task:     NewTask(),
	}
}

// Key returns the watched key.
func (b *Bridge) Key() string { return b.key }

// LoadRaw loads the persisted entries. Any failure degrades to an empty list.
func (b *Bridge) LoadRaw(ctx context.Context) []any {
	items, err := b.Load(ctx)
	if err != nil {
		b.logger.Warn("load failed, continuing with no favorites", "error", err)
		return []any{}
	}
	return items
}

// Load loads the persisted entries and reports storage failures. A failed
// enrichment falls back to the plain entries.
func (b *Bridge) Load(ctx context.Context) ([]any, error) {
	items, err := b.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []any{}
	}

	enricher, ok := b.storage.(EnrichedLoader)
	if !ok {
		return items, nil
	}
	enriched, err := enricher.LoadWithEnrichment(ctx, items)
	if err != nil {
		b.logger.Warn("enriched load failed, using plain entries", "error", err)
		return items, nil
	}
	if enriched == nil {
		return []any{}, nil
	}
	return enriched, nil
}

// ScheduleSave persists list once the debounce window elapses without a newer
// request. Superseded lists are never written.
func (b *Bridge) ScheduleSave(list []string) {
	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed {
		return
	}

	snapshot := slices.Clone(list)
	seq := b.seq.Add(1)
	b.task.Schedule(b.debounce, func() {
		_ = b.write(context.Background(), seq, snapshot)
	})
}

// SaveNow cancels any pending debounced write and persists list immediately.
// The error is informational; it has already been logged.
func (b *Bridge) SaveNow(ctx context.Context, list []string) error {
	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}

	seq := b.seq.Add(1)
	b.task.Cancel()
	return b.write(ctx, seq, slices.Clone(list))
}

// Cancel drops a pending debounced write without performing it.
func (b *Bridge) Cancel() {
	b.task.Cancel()
}

// Pending reports whether a debounced write is waiting.
func (b *Bridge) Pending() bool {
	return b.task.Pending()
}

// write persists list unless a write with a higher sequence number has
// already been attempted, so an in-flight debounced write can never land on
// top of a newer one.
func (b *Bridge) write(ctx context.Context, seq uint64, list []string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if seq <= b.written {
		b.logger.Debug("skipping superseded save", "seq", seq)
		return nil
	}
	b.written = seq

	if err := b.storage.Save(ctx, list); err != nil {
		b.logger.Error("save failed, state kept in memory", "error", err, "count", len(list))
		return err
	}
	b.logger.Debug("favorites saved", "count", len(list))
	return nil
}

// OnExternalChange registers fn to be called when another writer modifies the
// key, and subscribes to the channel. forced is true when the channel itself
// reported an error and a refresh should happen regardless of content.
func (b *Bridge) OnExternalChange(fn func(forced bool)) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.onChange = fn
	subscribed := b.unsubscribe != nil
	b.mu.Unlock()

	if b.channel == nil || subscribed {
		return nil
	}

	unsubscribe, err := b.channel.Subscribe(b.handleChange)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		unsubscribe()
		return ErrDestroyed
	}
	b.unsubscribe = unsubscribe
	return nil
}

func (b *Bridge) handleChange(c Change) {
	b.mu.Lock()
	fn := b.onChange
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed || fn == nil {
		return
	}

	if c.Err != nil {
		b.logger.Warn("change channel error, forcing refresh", "error", c.Err)
		fn(true)
		return
	}
	if c.Key == "" || c.Key != b.key {
		return
	}
	fn(false)
}

// Destroy flushes any pending write, unsubscribes from the channel and makes
// the bridge inert. It is safe to call more than once.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.onChange = nil
	b.mu.Unlock()

	b.task.Flush()
	if unsubscribe != nil {
		unsubscribe()
	}
}
