// Package favorites is the public face of the favorites cache. A Manager owns
// one bounded set and one persistence bridge, serializes every mutation,
// schedules debounced saves, notifies subscribers and reconciles with changes
// written by other managers sharing the same persisted key.
//
// Expected conditions (duplicate add, missing remove, full set, empty clear)
// come back as favset.Outcome values. The only error a caller sees is
// ErrStorageRequired from New.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/bridge"
	"github.com/celerix-dev/celerix-favorites/pkg/favset"
	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/google/uuid"
)

// ErrStorageRequired is returned by New when no storage collaborator is given.
var ErrStorageRequired = errors.New("favorites: storage with Load and Save is required")

// DefaultKey is the persisted key used when Options.Key is empty.
const DefaultKey = "favorites"

// Options configures a Manager. Start from DefaultOptions: a zero
// SaveDebounce means every save is written synchronously.
type Options struct {
	// Max is the capacity. 0 means unlimited.
	Max int
	// Overflow is the policy applied when the set is full.
	Overflow favset.Policy
	// SaveDebounce coalesces saves within this window.
	SaveDebounce time.Duration
	// Initial seeds the set without persisting it.
	Initial []any
	// Key is the persisted key the manager reads and writes.
	Key string
	// Sync enables reconciliation with changes from other writers.
	Sync bool
	// Channel reports foreign writes. Only used when Sync is set.
	Channel bridge.Channel
	// Publisher receives an envelope for every notification. Optional.
	Publisher Publisher
	// Normalizer overrides the identifier extraction rules.
	Normalizer *favset.Normalizer
	// Source is reported in envelope metadata.
	Source string
	Logger *slog.Logger
}

// DefaultOptions returns unlimited capacity, reject policy and a 200ms save
// debounce.
func DefaultOptions() Options {
	return Options{
		Overflow:     favset.PolicyReject,
		SaveDebounce: 200 * time.Millisecond,
		Key:          DefaultKey,
		Source:       "celerix-favorites",
	}
}

// Manager coordinates a favorites set with its persistence.
type Manager struct {
	mu        sync.Mutex
	set       *favset.Set
	subs      []subscription
	destroyed bool

	bridge    *bridge.Bridge
	publisher Publisher
	outbox    *deliveryQueue[schema.Envelope]
	source    string
	logger    *slog.Logger
}

// New creates a Manager around storage. The set starts with opts.Initial;
// call Load to read the persisted state.
func New(storage bridge.Storage, opts Options) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageRequired
	}
	if opts.Max < 0 {
		return nil, fmt.Errorf("favorites: negative capacity %d", opts.Max)
	}
	policy, err := favset.ParsePolicy(string(opts.Overflow))
	if err != nil {
		return nil, fmt.Errorf("favorites: %w", err)
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		set: favset.New(favset.Config{
			Max:        opts.Max,
			Overflow:   policy,
			Normalizer: opts.Normalizer,
		}),
		publisher: opts.Publisher,
		outbox:    &deliveryQueue[schema.Envelope]{},
		source:    opts.Source,
		logger:    logger.With("component", "favorites", "key", opts.Key),
	}
	if len(opts.Initial) > 0 {
		m.set.ReplaceAll(opts.Initial)
	}

	var channel bridge.Channel
	if opts.Sync {
		channel = opts.Channel
	}
	m.bridge = bridge.New(storage, bridge.Config{
		Key:      opts.Key,
		Debounce: opts.SaveDebounce,
		Channel:  channel,
		Logger:   logger,
	})
	if opts.Sync {
		if err := m.bridge.OnExternalChange(m.handleExternalChange); err != nil {
			m.logger.Warn("cross-context sync unavailable", "error", err)
		}
	}
	return m, nil
}

// --- queries ---

// IsFavorite reports whether item is in the set.
func (m *Manager) IsFavorite(item any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Contains(item)
}

// All returns a copy of the favorites, oldest first.
func (m *Manager) All() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Export()
}

// Count returns the number of favorites.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Len()
}

// Items iterates over a snapshot of the favorites.
func (m *Manager) Items() iter.Seq[string] {
	return slices.Values(m.All())
}

// Max returns the configured capacity.
func (m *Manager) Max() int {
	return m.set.Max()
}

// --- mutations ---

// mutate runs fn under the lock and, if it produced an event, schedules a
// save for state-changing events and dispatches the event after unlocking.
func (m *Manager) mutate(fn func() (ev *event, changed bool)) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	ev, changed := fn()
	if changed {
		m.bridge.ScheduleSave(ev.note.List)
	}
	subs := slices.Clone(m.subs)
	m.enqueue(subs, ev)
	m.mu.Unlock()

	m.dispatch(subs)
	return true
}

// Add adds item to the favorites.
func (m *Manager) Add(item any) favset.Outcome {
	var out favset.Outcome
	m.mutate(func() (*event, bool) {
		out = m.set.Add(item)
		return m.outcomeEvent(TypeAdd, out)
	})
	return out
}

// Remove removes item from the favorites.
func (m *Manager) Remove(item any) favset.Outcome {
	var out favset.Outcome
	m.mutate(func() (*event, bool) {
		out = m.set.Remove(item)
		return m.outcomeEvent(TypeRemove, out)
	})
	return out
}

// Toggle removes item if present and adds it otherwise.
func (m *Manager) Toggle(item any) favset.Outcome {
	var out favset.Outcome
	m.mutate(func() (*event, bool) {
		out = m.set.Toggle(item)
		t := TypeAdd
		if out.Action == favset.ActionRemove {
			t = TypeRemove
		}
		return m.outcomeEvent(t, out)
	})
	return out
}

// Clear removes every favorite.
func (m *Manager) Clear() favset.Outcome {
	var out favset.Outcome
	m.mutate(func() (*event, bool) {
		before := m.set.Export()
		out = m.set.Clear()
		if !out.OK {
			return nil, false
		}
		return newEvent(TypeClear, "", m.set.Export(), schema.FavoritesEvent{IDs: before}), true
	})
	return out
}

// Import merges items into the favorites, or replaces them when replace is
// true. Items rejected by a full set are skipped.
func (m *Manager) Import(items []any, replace bool) favset.ImportResult {
	res := favset.ImportResult{List: []string{}}
	m.mutate(func() (*event, bool) {
		res = m.set.Import(items, replace)
		if !res.Changed {
			return nil, false
		}
		ids := res.Added
		if replace {
			ids = res.List
		}
		return newEvent(TypeImport, "", res.List, schema.FavoritesEvent{IDs: ids}), true
	})
	return res
}

// outcomeEvent maps a single-item outcome to its notification. Outcomes that
// did not change the set produce none, except a full set which reports limit.
func (m *Manager) outcomeEvent(t NotificationType, out favset.Outcome) (*event, bool) {
	switch {
	case out.OK:
		return newEvent(t, out.ID, m.set.Export(), schema.FavoritesEvent{ID: out.ID}), true
	case out.Reason == favset.ReasonLimitReached:
		return newEvent(TypeLimit, out.ID, m.set.Export(), schema.FavoritesEvent{ID: out.ID}), false
	}
	return nil, false
}

// --- persistence ---

// Load replaces the set with the persisted favorites and emits a load
// notification. Persisted data over the capacity is truncated and the
// truncated list is written back. A storage failure degrades to an empty set.
func (m *Manager) Load(ctx context.Context) []string {
	if m.isDestroyed() {
		return []string{}
	}
	return m.replace(m.bridge.LoadRaw(ctx))
}

// TryLoad is Load for callers that must not start from an empty set when the
// storage is unavailable. On error the set is left as it was and nothing is
// emitted.
func (m *Manager) TryLoad(ctx context.Context) ([]string, error) {
	if m.isDestroyed() {
		return []string{}, nil
	}
	raw, err := m.bridge.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	return m.replace(raw), nil
}

func (m *Manager) replace(raw []any) []string {
	var list []string
	m.mutate(func() (*event, bool) {
		res := m.set.ReplaceAll(raw)
		list = res.List
		if res.Truncated {
			m.logger.Info("persisted favorites exceeded capacity, truncating",
				"loaded", len(raw), "max", m.set.Max())
		}
		return newEvent(TypeLoad, "", res.List, schema.FavoritesEvent{IDs: res.List}), res.Truncated
	})
	if list == nil {
		return []string{}
	}
	return list
}

// Reconcile reloads the persisted favorites and emits a sync notification
// when the result differs from the in-memory list. A forced reconcile always
// emits sync. It reports whether a sync notification was emitted.
func (m *Manager) Reconcile(ctx context.Context, forced bool) bool {
	if m.isDestroyed() {
		return false
	}
	before := m.All()

	// A pending local write would overwrite the newer external state.
	m.bridge.Cancel()
	after := m.Load(ctx)

	if !forced && slices.Equal(before, after) {
		return false
	}
	return m.mutate(func() (*event, bool) {
		list := m.set.Export()
		return newEvent(TypeSync, "", list, schema.FavoritesEvent{IDs: list}), false
	})
}

func (m *Manager) handleExternalChange(forced bool) {
	m.logger.Debug("external favorites change detected", "forced", forced)
	m.Reconcile(context.Background(), forced)
}

// SaveNow writes the current favorites immediately, superseding any pending
// debounced save. Mutations wait until the write completes.
func (m *Manager) SaveNow(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return bridge.ErrDestroyed
	}
	return m.bridge.SaveNow(ctx, m.set.Export())
}

// --- subscriptions ---

// Subscribe registers fn for future notifications. With immediate set, fn is
// first called with a load notification describing the current state. The
// returned function removes the subscription.
func (m *Manager) Subscribe(fn Listener, immediate bool) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	sub := subscription{id: uuid.NewString(), fn: fn, queue: &deliveryQueue[Notification]{}}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return func() {}
	}
	m.subs = append(m.subs, sub)
	if immediate {
		list := m.set.Export()
		sub.queue.push(Notification{Type: TypeLoad, List: list, Count: len(list)})
	}
	m.mu.Unlock()

	sub.queue.drain(func(n Notification) { m.safeInvoke(sub, n) })

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subs = slices.DeleteFunc(m.subs, func(s subscription) bool { return s.id == sub.id })
		})
	}
}

// --- lifecycle ---

// Destroy makes the manager inert, flushes any pending save, stops watching
// for external changes and drops all subscribers. It is safe to call more
// than once.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.subs = nil
	m.mu.Unlock()

	m.bridge.Destroy()
}

// Destroyed reports whether Destroy has been called.
func (m *Manager) Destroyed() bool {
	return m.isDestroyed()
}

func (m *Manager) isDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
