package engine

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Option configures a MemStore.
type Option func(*MemStore)

// WithLogger sets the logger used for background persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *MemStore) {
		if l != nil {
			m.logger = l
		}
	}
}

// MemStore is our thread-safe "Liquid Data" engine.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [personaID][appID][key]value
	data      map[string]map[string]map[string]any
	persister Persister
	wg        sync.WaitGroup
	logger    *slog.Logger

	// versions counts snapshots per persona; saved is the newest one on disk.
	versions map[string]uint64
	saveMu   sync.Mutex
	saved    map[string]uint64

	watchMu   sync.RWMutex
	watchers  map[int]WatchFunc
	nextWatch int
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister, which may be nil.
func NewMemStore(initialData map[string]map[string]map[string]any, p Persister, opts ...Option) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]map[string]any)
	}
	m := &MemStore{
		data:      initialData,
		persister: p,
		logger:    slog.Default(),
		versions:  make(map[string]uint64),
		saved:     make(map[string]uint64),
		watchers:  make(map[int]WatchFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "memstore")
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close waits for pending saves and closes the persister.
func (m *MemStore) Close() error {
	m.wg.Wait()
	if m.persister == nil {
		return nil
	}
	return m.persister.Close()
}

// Watch registers fn for every subsequent change. The returned function
// removes the registration.
func (m *MemStore) Watch(fn WatchFunc) (cancel func()) {
	m.watchMu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	m.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			m.watchMu.Unlock()
		})
	}
}

func (m *MemStore) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	m.watchMu.RLock()
	ids := slices.Sorted(maps.Keys(m.watchers))
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.watchers[id])
	}
	m.watchMu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// --- Interface Implementation ---

func (m *MemStore) Get(personaID, appID, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	persona, ok := m.data[personaID]
	if !ok {
		return nil, ErrPersonaNotFound
	}

	app, ok := persona[appID]
	if !ok {
		return nil, ErrAppNotFound
	}

	val, ok := app[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	return val, nil
}

func (m *MemStore) Set(personaID, appID, key string, val any) error {
	return m.SetAs("", personaID, appID, key, val)
}

// SetAs stores a value and tags the resulting change with origin so a watcher
// can recognize its own writes.
func (m *MemStore) SetAs(origin, personaID, appID, key string, val any) error {
	m.mu.Lock()
	if m.data[personaID] == nil {
		m.data[personaID] = make(map[string]map[string]any)
	}
	if m.data[personaID][appID] == nil {
		m.data[personaID][appID] = make(map[string]any)
	}

	m.data[personaID][appID][key] = val
	m.persistLocked(personaID)
	m.mu.Unlock()

	m.notify(Change{PersonaID: personaID, AppID: appID, Key: key, Value: val, Origin: origin})
	return nil
}

func (m *MemStore) Delete(personaID, appID, key string) error {
	return m.DeleteAs("", personaID, appID, key)
}

// DeleteAs removes a key and tags the resulting change with origin.
func (m *MemStore) DeleteAs(origin, personaID, appID, key string) error {
	m.mu.Lock()
	existed := false
	if p, ok := m.data[personaID]; ok {
		if a, ok := p[appID]; ok {
			_, existed = a[key]
			delete(a, key)
		}
	}
	if existed {
		m.persistLocked(personaID)
	}
	m.mu.Unlock()

	if existed {
		m.notify(Change{PersonaID: personaID, AppID: appID, Key: key, Deleted: true, Origin: origin})
	}
	return nil
}

// persistLocked snapshots a persona and saves it in the background. Snapshots
// are numbered so a slow older save never overwrites a newer one.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) persistLocked(personaID string) {
	if m.persister == nil {
		return
	}
	m.versions[personaID]++
	version := m.versions[personaID]
	snapshot := m.copyPersonaData(personaID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.saveMu.Lock()
		defer m.saveMu.Unlock()
		if version <= m.saved[personaID] {
			return
		}
		if err := m.persister.SavePersona(personaID, snapshot); err != nil {
			m.logger.Error("persist persona failed", "persona", personaID, "error", err)
			return
		}
		m.saved[personaID] = version
	}()
}

// copyPersonaData creates a deep copy of a persona's data.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyPersonaData(personaID string) map[string]map[string]any {
	original, ok := m.data[personaID]
	if !ok {
		return nil
	}

	personaCopy := make(map[string]map[string]any, len(original))
	for appID, appData := range original {
		personaCopy[appID] = maps.Clone(appData)
	}
	return personaCopy
}

// MergePersona replaces a persona with data read from elsewhere, typically
// another process's write to the data directory. Watchers receive one change
// per key that differs, tagged with origin. Nothing is persisted.
func (m *MemStore) MergePersona(origin, personaID string, data map[string]map[string]any) []Change {
	m.mu.Lock()
	current := m.data[personaID]
	var changes []Change

	for appID, app := range data {
		for key, val := range app {
			old, ok := current[appID][key]
			if ok && sameValue(old, val) {
				continue
			}
			changes = append(changes, Change{PersonaID: personaID, AppID: appID, Key: key, Value: val, Origin: origin})
		}
	}
	for appID, app := range current {
		for key := range app {
			if _, ok := data[appID][key]; !ok {
				changes = append(changes, Change{PersonaID: personaID, AppID: appID, Key: key, Deleted: true, Origin: origin})
			}
		}
	}

	if len(changes) > 0 {
		merged := make(map[string]map[string]any, len(data))
		for appID, app := range data {
			merged[appID] = maps.Clone(app)
		}
		m.data[personaID] = merged
	}
	m.mu.Unlock()

	m.notify(changes...)
	return changes
}

// sameValue compares values by their JSON form, so a []string held in memory
// equals the []any decoded from disk.
func sameValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func (m *MemStore) GetPersonas() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.data)), nil
}

func (m *MemStore) GetApps(personaID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apps, ok := m.data[personaID]
	if !ok {
		return []string{}, nil
	}
	return slices.Sorted(maps.Keys(apps)), nil
}

func (m *MemStore) GetAppStore(personaID, appID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.data[personaID]; ok {
		if a, ok := p[appID]; ok {
			// Return a copy to prevent external mutation of the internal map
			return maps.Clone(a), nil
		}
	}
	return nil, ErrAppNotFound
}

// DumpApp retrieves one app's data across all personas, keyed by persona.
func (m *MemStore) DumpApp(appID string) (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]any)
	for personaID, apps := range m.data {
		if a, ok := apps[appID]; ok {
			out[personaID] = maps.Clone(a)
		}
	}
	return out, nil
}

// GetGlobal searches every persona for key within appID and returns the value
// and its owner. Personas are searched in sorted order.
func (m *MemStore) GetGlobal(appID, key string) (any, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, personaID := range slices.Sorted(maps.Keys(m.data)) {
		if val, ok := m.data[personaID][appID][key]; ok {
			return val, personaID, nil
		}
	}
	return nil, "", ErrKeyNotFound
}

// Move transfers a key from one persona to another.
func (m *MemStore) Move(srcPersona, dstPersona, appID, key string) error {
	val, err := m.Get(srcPersona, appID, key)
	if err != nil {
		return err
	}
	if err := m.Set(dstPersona, appID, key, val); err != nil {
		return err
	}
	return m.Delete(srcPersona, appID, key)
}
