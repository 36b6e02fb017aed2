// Package events publishes catalog domain events to RabbitMQ. Publishing is
// best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TypeDatasetSynchronized is emitted after a dataset receives its DOI.
const TypeDatasetSynchronized = "dataset.synchronized"

// DefaultQueue is the durable queue events are routed to.
const DefaultQueue = "astrohub.events"

// Event is a catalog domain event.
type Event struct {
	Type         string    `json:"type"`
	DatasetID    int64     `json:"dataset_id"`
	DepositionID int64     `json:"deposition_id,omitempty"`
	DOI          string    `json:"doi,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher sends events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Publishing encodes e as a persistent JSON message.
func Publishing(e Event) (amqp.Publishing, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshaling event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	}, nil
}

// AMQPPublisher publishes to a durable queue over one long-lived channel.
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher dials url and declares queue.
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends e to the queue through the default exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := Publishing(e)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", e.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	if err := p.conn.Close(); err != nil {
		return err
	}
	return chErr
}

// Noop discards every event. It is used when RABBITMQ_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
