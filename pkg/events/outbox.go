package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/database"
)

// OutboxStatus defines the status of an event in the outbox
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEvent is an envelope staged in the database, recorded in the same
// transaction as the state change it describes. Payload is the marshalled
// Envelope.
type OutboxEvent struct {
	ID          uuid.UUID    `db:"id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at"`
}

// NewOutboxEvent stages an envelope for the relay.
func NewOutboxEvent(env *Envelope) (*OutboxEvent, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return &OutboxEvent{
		ID:        env.EventID,
		EventType: env.EventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: time.Now(),
	}, nil
}

// OutboxRepository defines the interface for interacting with the outbox table
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx database.Tx, event *OutboxEvent) error
	// GetPendingEvents must claim rows with FOR UPDATE SKIP LOCKED so
	// concurrent relay instances never publish the same event twice from the
	// same poll cycle.
	GetPendingEvents(ctx context.Context, tx database.Tx, limit int) ([]*OutboxEvent, error)
	UpdateEventStatus(ctx context.Context, tx database.Tx, id uuid.UUID, status OutboxStatus) error
}

// OutboxRelay polls the outbox table and publishes pending events. Delivery
// is at-least-once: a crash between publish and status update republishes on
// the next cycle, and consumers must tolerate the redelivery.
type OutboxRelay struct {
	outboxRepo OutboxRepository
	publisher  Publisher
	txManager  database.TransactionManager
	batchSize  int
	interval   time.Duration
	logger     *slog.Logger
}

// NewOutboxRelay creates a new relay
func NewOutboxRelay(
	outboxRepo OutboxRepository,
	publisher Publisher,
	txManager database.TransactionManager,
	batchSize int,
	interval time.Duration,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		txManager:  txManager,
		batchSize:  batchSize,
		interval:   interval,
		logger:     logger,
	}
}

// Run starts the polling loop
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processBatch(ctx); err != nil {
		r.logger.Error("failed to process outbox batch", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error("failed to process outbox batch", "error", err)
			}
		}
	}
}

func (r *OutboxRelay) processBatch(ctx context.Context) error {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	pending, err := r.outboxRepo.GetPendingEvents(ctx, tx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending events: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	r.logger.Info("relaying outbox events", "count", len(pending))

	for _, event := range pending {
		var env Envelope
		if err := json.Unmarshal(event.Payload, &env); err != nil {
			// Unparseable rows would wedge the relay forever; mark failed
			// and move on.
			r.logger.Error("failed to unmarshal outbox payload, marking failed",
				"event_id", event.ID, "error", err)
			if statusErr := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusFailed); statusErr != nil {
				return fmt.Errorf("failed to mark event %s failed: %w", event.ID, statusErr)
			}
			continue
		}

		// Publish failure rolls back the whole batch; rows stay pending and
		// are retried next cycle.
		if err := r.publisher.Publish(ctx, env.EventType, &env); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
		}

		if err := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusPublished); err != nil {
			return fmt.Errorf("failed to update event status %s: %w", event.ID, err)
		}
	}

	return tx.Commit(ctx)
}
