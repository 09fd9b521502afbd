package favorites

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/google/uuid"
)

// NotificationType names what happened to the favorites set.
type NotificationType string

const (
	TypeLoad   NotificationType = "load"
	TypeAdd    NotificationType = "add"
	TypeRemove NotificationType = "remove"
	TypeClear  NotificationType = "clear"
	TypeImport NotificationType = "import"
	TypeSync   NotificationType = "sync"
	TypeLimit  NotificationType = "limit"
)

// Notification is delivered to local subscribers after every change.
type Notification struct {
	Type  NotificationType `json:"type"`
	ID    string           `json:"id,omitempty"`
	List  []string         `json:"list"`
	Count int              `json:"count"`
}

// Listener receives notifications in the order the changes happened, usually
// on the goroutine that caused them.
type Listener func(Notification)

// Publisher forwards envelopes to a process-wide or external event channel.
type Publisher interface {
	Publish(ctx context.Context, env schema.Envelope) error
}

type subscription struct {
	id    string
	fn    Listener
	queue *deliveryQueue[Notification]
}

// deliveryQueue holds items in the order they were produced under the
// manager lock. At most one goroutine drains it at a time, so a recipient
// never sees an older state after a newer one. Items produced by the
// recipient itself are delivered once its callback returns.
type deliveryQueue[T any] struct {
	mu       sync.Mutex
	pending  []T
	draining bool
}

func (q *deliveryQueue[T]) push(v T) {
	q.mu.Lock()
	q.pending = append(q.pending, v)
	q.mu.Unlock()
}

// drain calls fn for every queued item unless another goroutine is already
// draining. It must be called without the manager lock held.
func (q *deliveryQueue[T]) drain(fn func(T)) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.pending) > 0 {
		v := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn(v)
		q.mu.Lock()
	}
	q.pending = nil
	q.draining = false
	q.mu.Unlock()
}

// event couples a local notification with the payload for its envelope.
type event struct {
	note Notification
	data schema.FavoritesEvent
}

func newEvent(t NotificationType, id string, list []string, data schema.FavoritesEvent) *event {
	if data.Action == "" {
		data.Action = string(t)
	}
	return &event{
		note: Notification{Type: t, ID: id, List: list, Count: len(list)},
		data: data,
	}
}

// enqueue queues ev for every subscriber and the publisher. It must be
// called with m.mu held so that queue order matches state order. Every
// recipient gets its own copy of the list.
func (m *Manager) enqueue(subs []subscription, ev *event) {
	if ev == nil {
		return
	}
	for _, sub := range subs {
		n := ev.note
		n.List = slices.Clone(n.List)
		sub.queue.push(n)
	}
	if m.publisher == nil {
		return
	}

	meta := map[string]any{
		"source":   m.source,
		"count":    ev.note.Count,
		"event_id": uuid.NewString(),
	}
	data := ev.data
	data.IDs = slices.Clone(data.IDs)
	m.outbox.push(schema.NewEnvelope(schema.FavoritesEventPrefix+string(ev.note.Type), time.Now(), meta, data))
}

// dispatch drains subs in subscription order and then the publisher's
// outbox. Listeners may call back into the manager.
func (m *Manager) dispatch(subs []subscription) {
	for _, sub := range subs {
		sub.queue.drain(func(n Notification) { m.safeInvoke(sub, n) })
	}
	if m.publisher == nil {
		return
	}
	m.outbox.drain(func(env schema.Envelope) {
		if err := m.publisher.Publish(context.Background(), env); err != nil {
			m.logger.Warn("publish favorites event failed", "type", env.Type, "error", err)
		}
	})
}

func (m *Manager) safeInvoke(sub subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("favorites listener panicked",
				slog.String("subscription", sub.id),
				slog.String("type", string(n.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	sub.fn(n)
}
