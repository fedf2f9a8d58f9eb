package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes envelopes to a topic exchange. The broker behind it is
// swappable; callers only see this interface. A returned error means the
// publish failed after retries and must not be swallowed silently: downstream
// services depend on these events for state convergence.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *Envelope) error
}

const (
	publishMaxRetries      = 2
	publishInitialInterval = 100 * time.Millisecond
)

// RabbitMQPublisher implements Publisher on a RabbitMQ topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQPublisher opens a channel and declares the exchange.
func NewRabbitMQPublisher(conn *amqp.Connection, exchange string) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
	}, nil
}

// Close closes the channel
func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// Publish sends the envelope with bounded retry. After retries are exhausted
// the error is returned to the caller.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = publishInitialInterval

	operation := func() error {
		return p.channel.PublishWithContext(ctx,
			p.exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				MessageId:   env.EventID.String(),
				Timestamp:   env.Timestamp,
				Body:        body,
			},
		)
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, publishMaxRetries), ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.EventType, err)
	}
	return nil
}
