package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")
var errPermanent = errors.New("permanent failure")

func testConsumer(cfg ConsumerConfig) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(nil, cfg, logger)
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := testConsumer(ConsumerConfig{Queue: "q"})

	assert.Equal(t, defaultMaxAttempts, c.cfg.MaxAttempts)
	assert.Equal(t, defaultInitialInterval, c.cfg.InitialInterval)
	assert.Equal(t, defaultMultiplier, c.cfg.Multiplier)
	assert.Equal(t, defaultMaxInterval, c.cfg.MaxInterval)
	assert.Equal(t, "q.dlq", c.DeadLetterQueue())
}

func TestProcessWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	c := testConsumer(ConsumerConfig{
		Queue: "q",
		Handler: func(ctx context.Context, env *Envelope) error {
			attempts++
			return errTransient
		},
		Retryable:       func(err error) bool { return true },
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})

	err := c.processWithRetry(context.Background(), &Envelope{})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestProcessWithRetry_PermanentShortCircuits(t *testing.T) {
	attempts := 0
	c := testConsumer(ConsumerConfig{
		Queue: "q",
		Handler: func(ctx context.Context, env *Envelope) error {
			attempts++
			return errPermanent
		},
		Retryable:       func(err error) bool { return !errors.Is(err, errPermanent) },
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	})

	err := c.processWithRetry(context.Background(), &Envelope{})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestProcessWithRetry_RecoversMidway(t *testing.T) {
	attempts := 0
	c := testConsumer(ConsumerConfig{
		Queue: "q",
		Handler: func(ctx context.Context, env *Envelope) error {
			attempts++
			if attempts < 2 {
				return errTransient
			}
			return nil
		},
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	})

	require.NoError(t, c.processWithRetry(context.Background(), &Envelope{}))
	assert.Equal(t, 2, attempts)
}

func TestProcessWithRetry_NilRetryableTreatsAllAsTransient(t *testing.T) {
	attempts := 0
	c := testConsumer(ConsumerConfig{
		Queue: "q",
		Handler: func(ctx context.Context, env *Envelope) error {
			attempts++
			return errPermanent
		},
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
	})

	err := c.processWithRetry(context.Background(), &Envelope{})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}
