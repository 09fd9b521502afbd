package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const badgerPersonaPrefix = "persona/"

// BadgerConfig configures a BadgerPersistence.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. nil disables them.
	Logger *slog.Logger
}

// BadgerPersistence stores one JSON document per persona in BadgerDB.
type BadgerPersistence struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// NewBadgerPersistence opens a BadgerDB at cfg.Path, or in memory.
func NewBadgerPersistence(cfg BadgerConfig) (*BadgerPersistence, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerPersistence{db: db}, nil
}

// SavePersona replaces the stored document for personaID.
func (b *BadgerPersistence) SavePersona(personaID string, data map[string]map[string]any) error {
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", personaID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPersonaPrefix+personaID), content)
	})
}

// LoadAll reads every persona document.
func (b *BadgerPersistence) LoadAll() (map[string]map[string]map[string]any, error) {
	allData := make(map[string]map[string]map[string]any)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPersonaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			personaID := strings.TrimPrefix(string(item.Key()), badgerPersonaPrefix)
			err := item.Value(func(val []byte) error {
				var personaData map[string]map[string]any
				if err := json.Unmarshal(val, &personaData); err != nil {
					return fmt.Errorf("decode persona %s: %w", personaID, err)
				}
				allData[personaID] = personaData
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allData, nil
}

// Close closes the database.
func (b *BadgerPersistence) Close() error {
	return b.db.Close()
}
