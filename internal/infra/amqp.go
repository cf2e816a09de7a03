// README: RabbitMQ connection used to publish dispatch events to a topic exchange.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type Broker struct {
	url      string
	exchange string
	log      zerolog.Logger

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewBroker dials url, retrying with backoff until ctx ends or attempts run out,
// and declares exchange as a durable topic exchange.
func NewBroker(ctx context.Context, url, exchange string, log zerolog.Logger) (*Broker, error) {
	b := &Broker{url: url, exchange: exchange, log: log.With().Str("component", "amqp").Logger()}

	const maxAttempts = 5
	delay := 500 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := b.connect()
		if err == nil {
			b.log.Info().Str("exchange", exchange).Int("attempt", attempt).Msg("rabbitmq connected")
			return b, nil
		}
		b.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("rabbitmq connect failed")
		if attempt == maxAttempts {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxAttempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * 1.5)
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}
	return nil, errors.New("unreachable")
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	return nil
}

// Publish sends a persistent JSON message with routingKey to the configured exchange.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.RLock()
	ch := b.ch
	closed := b.closed
	b.mu.RUnlock()
	if closed || ch == nil {
		return errors.New("rabbitmq channel not available")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.log.Info().Msg("rabbitmq closed")
}
