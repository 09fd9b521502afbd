package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names a Persister implementation.
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendBadger Backend = "badger"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name. The empty string means JSON.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case "":
		return BackendJSON, nil
	case BackendJSON, BackendBadger, BackendSQLite:
		return b, nil
	}
	return "", fmt.Errorf("unknown storage backend %q", s)
}

// OpenPersister opens the persister for backend rooted at dataDir. JSON files
// live directly in dataDir; badger uses dataDir/badger and sqlite
// dataDir/celerix.db.
func OpenPersister(backend Backend, dataDir string, logger *slog.Logger) (Persister, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case BackendJSON, "":
		p, err := NewPersistence(dataDir)
		if err != nil {
			return nil, err
		}
		p.logger = logger.With("component", "persistence", "dir", dataDir)
		return p, nil
	case BackendBadger:
		return NewBadgerPersistence(BadgerConfig{
			Path:       filepath.Join(dataDir, "badger"),
			SyncWrites: true,
			Logger:     logger,
		})
	case BackendSQLite:
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, err
		}
		return NewSQLitePersistence(filepath.Join(dataDir, "celerix.db"))
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}

// Open loads every persona from the backend and returns a MemStore writing
// back through it.
func Open(backend Backend, dataDir string, logger *slog.Logger) (*MemStore, error) {
	p, err := OpenPersister(backend, dataDir, logger)
	if err != nil {
		return nil, err
	}
	allData, err := p.LoadAll()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("load %s data: %w", backend, err)
	}
	return NewMemStore(allData, p, WithLogger(logger)), nil
}
