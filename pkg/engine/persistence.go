package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persister stores whole personas. Implementations must be safe for
// concurrent use.
type Persister interface {
	SavePersona(personaID string, data map[string]map[string]any) error
	LoadAll() (map[string]map[string]map[string]any, error)
	Close() error
}

// Persistence handles the disk I/O for the MemStore: one JSON file per persona.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	logger  *slog.Logger

	// written holds the digest of the last content this process wrote per
	// persona so a FileWatcher can skip its own writes.
	written map[string][sha256.Size]byte
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{
		DataDir: dir,
		logger:  slog.Default().With("component", "persistence", "dir", dir),
		written: make(map[string][sha256.Size]byte),
	}, nil
}

func (p *Persistence) path(personaID string) string {
	return filepath.Join(p.DataDir, fmt.Sprintf("%s.json", personaID))
}

// SavePersona writes a single persona's data to a JSON file atomically.
func (p *Persistence) SavePersona(personaID string, data map[string]map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := p.path(personaID)
	tempPath := filePath + ".tmp"

	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", personaID, err)
	}

	// Write to a temporary file first, then swap it in. If the power fails
	// you have either the old file or the new one, never a corrupt one.
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return err
	}
	p.written[personaID] = sha256.Sum256(content)
	return os.Rename(tempPath, filePath)
}

// IsOwnWrite reports whether content is exactly what this process last wrote
// for personaID.
func (p *Persistence) IsOwnWrite(personaID string, content []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum, ok := p.written[personaID]
	return ok && sum == sha256.Sum256(content)
}

// LoadPersona reads one persona file. The raw bytes are returned alongside the
// decoded data.
func (p *Persistence) LoadPersona(personaID string) (map[string]map[string]any, []byte, error) {
	content, err := os.ReadFile(p.path(personaID))
	if err != nil {
		return nil, nil, err
	}
	var personaData map[string]map[string]any
	if err := json.Unmarshal(content, &personaData); err != nil {
		return nil, content, fmt.Errorf("decode persona %s: %w", personaID, err)
	}
	return personaData, content, nil
}

// LoadAll returns all persona data found in the data directory.
func (p *Persistence) LoadAll() (map[string]map[string]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]map[string]any)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		personaID, ok := personaFromFile(file.Name())
		if !ok || file.IsDir() {
			continue
		}
		personaData, _, err := p.LoadPersona(personaID)
		if err != nil {
			// Skip corrupted/unreadable files
			p.logger.Warn("skipping persona file", "file", file.Name(), "error", err)
			continue
		}
		allData[personaID] = personaData
	}
	return allData, nil
}

// Close is a no-op; files are closed after every write.
func (p *Persistence) Close() error { return nil }

// personaFromFile maps "<persona>.json" to its persona ID.
func personaFromFile(name string) (string, bool) {
	if filepath.Ext(name) != ".json" {
		return "", false
	}
	id := strings.TrimSuffix(name, ".json")
	return id, id != ""
}
