package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes a decoded envelope. Returned errors are classified by
// the consumer's Retryable func: transient failures are retried with backoff,
// permanent ones go straight to the dead-letter queue.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// ConsumerConfig wires a queue to a handler.
type ConsumerConfig struct {
	Exchange string
	Queue    string
	// Bindings are routing-key patterns; wildcard segments are supported by
	// the topic exchange (e.g. "bids.*").
	Bindings []string
	Handler  HandlerFunc
	// Retryable reports whether an error from Handler is transient. When nil
	// every error is treated as retryable.
	Retryable func(error) bool

	// Retry policy for transient failures before dead-lettering.
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMultiplier      = 1.5
	defaultMaxInterval     = 500 * time.Millisecond
)

// Consumer delivers messages from a durable queue to a handler with
// at-least-once semantics. Messages that fail permanently, or exhaust their
// retries, are moved to "<queue>.dlq" and acknowledged; dead-lettered
// messages are never reprocessed automatically. Growth in dead-letter volume
// is an operational signal, not a code path.
type Consumer struct {
	conn   *amqp.Connection
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a consumer; defaults are applied to the retry policy.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaultMultiplier
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	return &Consumer{conn: conn, cfg: cfg, logger: logger}
}

// DeadLetterQueue returns the name of the DLQ paired with the main queue.
func (c *Consumer) DeadLetterQueue() string {
	return c.cfg.Queue + ".dlq"
}

// Run declares the topology and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if setupErr := c.setup(ch); setupErr != nil {
		return fmt.Errorf("failed to setup topology: %w", setupErr)
	}

	msgs, err := ch.Consume(
		c.cfg.Queue, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started", "queue", c.cfg.Queue, "bindings", c.cfg.Bindings)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, ch, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		// Malformed payloads can never succeed; dead-letter immediately.
		c.logger.Error("failed to unmarshal envelope, dead-lettering",
			"queue", c.cfg.Queue, "routing_key", d.RoutingKey, "error", err)
		c.deadLetter(ctx, ch, d)
		return
	}

	err := c.processWithRetry(ctx, &env)
	if err != nil {
		c.logger.Error("failed to process event, dead-lettering",
			"queue", c.cfg.Queue, "event_id", env.EventID, "event_type", env.EventType, "error", err)
		c.deadLetter(ctx, ch, d)
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack message", "event_id", env.EventID, "error", ackErr)
	}
}

// processWithRetry runs the handler under the bounded backoff policy.
// Non-retryable errors short-circuit the loop.
func (c *Consumer) processWithRetry(ctx context.Context, env *Envelope) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.Multiplier = c.cfg.Multiplier
	bo.MaxInterval = c.cfg.MaxInterval
	bo.RandomizationFactor = 0

	operation := func() error {
		err := c.cfg.Handler(ctx, env)
		if err != nil && c.cfg.Retryable != nil && !c.cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx))
}

// deadLetter moves the message to the DLQ and acks the original. Publishing
// on the default exchange with the queue name as routing key targets the DLQ
// directly.
func (c *Consumer) deadLetter(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	err := ch.PublishWithContext(ctx,
		"",                  // default exchange
		c.DeadLetterQueue(), // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType: d.ContentType,
			MessageId:   d.MessageId,
			Body:        d.Body,
		},
	)
	if err != nil {
		c.logger.Error("failed to publish to dead-letter queue, requeueing",
			"dlq", c.DeadLetterQueue(), "error", err)
		// Keep the message in the main queue rather than lose it.
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack dead-lettered message", "error", ackErr)
	}
}

func (c *Consumer) setup(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return err
	}

	if _, err = ch.QueueDeclare(
		c.DeadLetterQueue(), // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // args
	); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return err
	}

	for _, binding := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, binding, c.cfg.Exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}
