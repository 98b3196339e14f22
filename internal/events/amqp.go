package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig describes the RabbitMQ connection for the event bus.
type AMQPConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// AMQPBus publishes domain events to a RabbitMQ queue as JSON.
type AMQPBus struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPBus connects to RabbitMQ and declares the event queue.
func NewAMQPBus(cfg AMQPConfig) (*AMQPBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url cannot be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "hostpanel.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue: %w", err)
	}
	return &AMQPBus{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements Bus.
func (b *AMQPBus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.ch == nil {
		return errors.New("amqp bus is not initialised")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Type:        event.Type,
		Body:        body,
	})
}

// Close releases the channel and connection.
func (b *AMQPBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
