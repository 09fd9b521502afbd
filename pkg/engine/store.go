// Package engine is the embedded persona/app/key store behind Celerix. It keeps
// everything in memory, persists each persona through a pluggable Persister and
// reports every change to registered watchers.
package engine

import "errors"

var (
	// ErrPersonaNotFound is returned when a requested persona does not exist.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrAppNotFound is returned when a requested app does not exist within a persona.
	ErrAppNotFound = errors.New("app not found")
	// ErrKeyNotFound is returned when a requested key does not exist within an app.
	ErrKeyNotFound = errors.New("key not found")
)

// SystemPersona is the reserved ID for global/system-level data.
const SystemPersona = "_system"

// OriginDisk tags changes merged in from the data directory by a FileWatcher.
const OriginDisk = "disk"

// Change describes a single key modification.
type Change struct {
	PersonaID string
	AppID     string
	Key       string
	Value     any
	Deleted   bool
	// Origin identifies the writer. Plain Set and Delete leave it empty.
	Origin string
}

// WatchFunc receives changes after the store lock is released.
type WatchFunc func(Change)
