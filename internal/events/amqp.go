package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig configures an AMQPPublisher.
type AMQPConfig struct {
	URL          string
	Exchange     string
	ExchangeType string // direct, fanout, topic or headers; default topic
	Durable      bool
	// PublishTimeout bounds a single publish when ctx has no deadline.
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// AMQPPublisher publishes envelopes to a RabbitMQ exchange. The envelope
// type is the routing key, so consumers can bind to "favorites.#".
type AMQPPublisher struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
	logger  *slog.Logger
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp publisher: exchange name is required")
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: failed to dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp publisher: failed to open a channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		cfg.ExchangeType,
		cfg.Durable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp publisher: failed to declare exchange '%s': %w", cfg.Exchange, err)
	}

	return &AMQPPublisher{
		cfg:     cfg,
		conn:    conn,
		channel: ch,
		logger:  logger.With("component", "amqp_publisher", "exchange", cfg.Exchange),
	}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, env schema.Envelope) error {
	msg, err := newPublishing(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("amqp publisher: not connected or channel/connection is closed")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}
	err = p.channel.PublishWithContext(ctx, p.cfg.Exchange, env.Type, false, false, msg)
	if err != nil {
		return fmt.Errorf("amqp publisher: failed to publish %s: %w", env.Type, err)
	}
	p.logger.Debug("published event", "type", env.Type)
	return nil
}

// newPublishing encodes env as a persistent JSON message.
func newPublishing(env schema.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("amqp publisher: failed to marshal %s: %w", env.Type, err)
	}
	headers := amqp.Table{"x-envelope-version": int32(env.V)}
	if id, ok := env.Meta["event_id"].(string); ok {
		headers["x-event-id"] = id
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    env.Time(),
		Type:         env.Type,
		Headers:      headers,
	}, nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conn = nil
	}
	return firstErr
}
