package engine

import "fmt"

// Source is the read side of a migration.
type Source interface {
	GetPersonas() ([]string, error)
	GetApps(personaID string) ([]string, error)
	GetAppStore(personaID, appID string) (map[string]any, error)
}

// Sink is the write side of a migration.
type Sink interface {
	Set(personaID, appID, key string, val any) error
}

// Migrate takes data from a source store and pushes it to a destination store.
// This works for:
// - Embedded -> Remote (The "Upgrade")
// - Remote -> Embedded (The "Backup/Offline")
func Migrate(src Source, dst Sink) error {
	personas, err := src.GetPersonas()
	if err != nil {
		return fmt.Errorf("failed to list personas: %w", err)
	}

	for _, pID := range personas {
		apps, err := src.GetApps(pID)
		if err != nil {
			return fmt.Errorf("failed to list apps for persona %s: %w", pID, err)
		}

		for _, aID := range apps {
			data, err := src.GetAppStore(pID, aID)
			if err != nil {
				return fmt.Errorf("failed to dump data for app %s: %w", aID, err)
			}

			for k, v := range data {
				if err := dst.Set(pID, aID, k, v); err != nil {
					return fmt.Errorf("failed to set key %s in destination: %w", k, err)
				}
			}
		}
	}

	return nil
}

// MigratePersisters copies every persona from one backend to another and
// returns how many were written.
func MigratePersisters(src, dst Persister) (int, error) {
	allData, err := src.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to load source: %w", err)
	}
	n := 0
	for pID, data := range allData {
		if err := dst.SavePersona(pID, data); err != nil {
			return n, fmt.Errorf("failed to save persona %s: %w", pID, err)
		}
		n++
	}
	return n, nil
}
