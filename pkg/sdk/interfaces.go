package sdk

import (
	"io"

	"github.com/celerix-dev/celerix-favorites/pkg/engine"
)

// The engine's sentinel errors, shared so callers can match them with
// errors.Is whether the store is embedded or remote.
var (
	ErrPersonaNotFound = engine.ErrPersonaNotFound
	ErrAppNotFound     = engine.ErrAppNotFound
	ErrKeyNotFound     = engine.ErrKeyNotFound
)

// SystemPersona is the reserved ID for global/system-level data.
const SystemPersona = engine.SystemPersona

// --- Functional Interfaces (Interface Segregation) ---

// KVReader defines the basic read operations for the store.
type KVReader interface {
	Get(personaID, appID, key string) (any, error)
}

// KVWriter defines the basic write and delete operations for the store.
type KVWriter interface {
	Set(personaID, appID, key string, val any) error
	Delete(personaID, appID, key string) error
}

// KVStore is the minimum a favorites storage needs.
type KVStore interface {
	KVReader
	KVWriter
}

// AppEnumeration allows discovering personas and apps.
type AppEnumeration interface {
	GetPersonas() ([]string, error)
	GetApps(personaID string) ([]string, error)
}

// BatchExporter allows retrieving bulk data.
type BatchExporter interface {
	GetAppStore(personaID, appID string) (map[string]any, error)
	DumpApp(appID string) (map[string]map[string]any, error)
}

// GlobalSearcher allows searching for keys across all personas.
type GlobalSearcher interface {
	GetGlobal(appID, key string) (any, string, error)
}

// Orchestrator handles higher-level data operations like moves.
type Orchestrator interface {
	Move(srcPersona, dstPersona, appID, key string) error
}

// OriginWriter is implemented by stores that can tag a write with its
// origin, letting watchers skip their own changes.
type OriginWriter interface {
	SetAs(origin, personaID, appID, key string, val any) error
}

// Watcher is implemented by stores that report changes as they happen.
type Watcher interface {
	Watch(fn engine.WatchFunc) (cancel func())
}

// --- Composite Interfaces ---

// CelerixStore is the primary interface for interacting with the data store.
// Both the embedded engine and the remote client implement it.
type CelerixStore interface {
	KVStore
	AppEnumeration
	BatchExporter
	GlobalSearcher
	Orchestrator
	io.Closer
}

var (
	_ CelerixStore = (*engine.MemStore)(nil)
	_ CelerixStore = (*Client)(nil)
	_ OriginWriter = (*engine.MemStore)(nil)
	_ Watcher      = (*engine.MemStore)(nil)
)
