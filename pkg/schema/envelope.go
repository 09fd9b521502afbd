// Package schema defines universal data structures used across the Celerix platform.
package schema

import "time"

// EnvelopeVersion is the current envelope format version.
const EnvelopeVersion = 1

// Envelope wraps every domain event published outside the process so that
// consumers can handle events uniformly regardless of their origin.
type Envelope struct {
	V    int            `json:"v"`
	Type string         `json:"type"`
	At   int64          `json:"at"` // epoch milliseconds
	Meta map[string]any `json:"meta"`
	Data any            `json:"data"`
}

// NewEnvelope stamps data with the current version and time.
func NewEnvelope(eventType string, at time.Time, meta map[string]any, data any) Envelope {
	if meta == nil {
		meta = map[string]any{}
	}
	return Envelope{
		V:    EnvelopeVersion,
		Type: eventType,
		At:   at.UnixMilli(),
		Meta: meta,
		Data: data,
	}
}

// Time returns At as a time.Time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.At)
}

// FavoritesEvent is the payload of favorites domain events.
type FavoritesEvent struct {
	ID     string   `json:"id,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Action string   `json:"action"`
}

// Favorites event actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionClear  = "clear"
	ActionLoad   = "load"
	ActionSync   = "sync"
	ActionImport = "import"
	ActionLimit  = "limit"
)

// FavoritesEventPrefix prefixes the Type of every favorites envelope.
const FavoritesEventPrefix = "favorites."
