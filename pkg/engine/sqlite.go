package engine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS personas (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLitePersistence stores one JSON document per persona in a SQLite table.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens the database at path and creates the schema.
// ":memory:" gives a private in-memory database.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Every connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create personas table: %w", err)
	}
	return &SQLitePersistence{db: db}, nil
}

// SavePersona upserts the document for personaID.
func (s *SQLitePersistence) SavePersona(personaID string, data map[string]map[string]any) error {
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", personaID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO personas (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		personaID, string(content), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", personaID, err)
	}
	return nil
}

// LoadAll reads every persona document.
func (s *SQLitePersistence) LoadAll() (map[string]map[string]map[string]any, error) {
	rows, err := s.db.Query(`SELECT id, data FROM personas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	allData := make(map[string]map[string]map[string]any)
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		var personaData map[string]map[string]any
		if err := json.Unmarshal([]byte(content), &personaData); err != nil {
			return nil, fmt.Errorf("decode persona %s: %w", id, err)
		}
		allData[id] = personaData
	}
	return allData, rows.Err()
}

// Close closes the database.
func (s *SQLitePersistence) Close() error {
	return s.db.Close()
}
