// Package events carries favorites envelopes beyond a single manager: an
// in-process bus shared by every manager of the process, and a RabbitMQ
// publisher for other services.
package events

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/google/uuid"
)

// Handler processes one envelope.
type Handler func(env schema.Envelope)

type subscription struct {
	id      string
	handler Handler
	prefix  string
}

// Bus is a process-wide, synchronous event channel. It keeps the most recent
// envelopes so late subscribers can catch up.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	buffer     []schema.Envelope
	bufferSize int
	logger     *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets how many recent envelopes are kept.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) { b.bufferSize = size }
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{bufferSize: 100, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.buffer = make([]schema.Envelope, 0, b.bufferSize)
	return b
}

// Subscribe registers handler for envelopes whose type starts with prefix.
// An empty prefix matches everything. It returns the subscription ID.
func (b *Bus) Subscribe(handler Handler, prefix string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{id: uuid.NewString(), handler: handler, prefix: prefix}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. It reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s.id == id })
	return len(b.subs) != n
}

// Publish buffers env and hands it to every matching subscriber in
// subscription order. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, env schema.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.bufferSize > 0 {
		if len(b.buffer) >= b.bufferSize {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, env)
	}
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if strings.HasPrefix(env.Type, sub.prefix) {
			b.safeInvoke(sub, env)
		}
	}
	return nil
}

func (b *Bus) safeInvoke(sub *subscription, env schema.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", env.Type,
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(env)
}

// Recent returns a copy of the buffered envelopes, oldest first.
func (b *Bus) Recent() []schema.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.buffer)
}

// Publisher is anything envelopes can be published to.
type Publisher interface {
	Publish(ctx context.Context, env schema.Envelope) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, env schema.Envelope) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
