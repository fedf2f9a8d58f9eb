package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/pkg/dlock"
	"github.com/auctionlab/paddle/pkg/events"
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidStartPrice   = errors.New("starting price must be greater than 0")
	ErrInvalidTimeWindow   = errors.New("end time must be after start time and in the future")
	ErrPriceLockContention = errors.New("item price is locked by a concurrent update, retry shortly")
)

const catalogItemLockKind = "catalog-item"

// Service owns the authoritative item records: CRUD at the boundary, the
// cross-service price synchronizer, and the lifecycle transitions driven by
// the scheduler.
type Service struct {
	txManager  database.TransactionManager
	repo       Repository
	outboxRepo OutboxRepository
	locks      Locker
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewService creates the item service.
func NewService(
	txManager database.TransactionManager,
	repo Repository,
	outboxRepo OutboxRepository,
	locks Locker,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		txManager:  txManager,
		repo:       repo,
		outboxRepo: outboxRepo,
		locks:      locks,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// CreateItem lists a new item. It starts PENDING; the scheduler activates it
// when its start time passes.
func (s *Service) CreateItem(ctx context.Context, cmd CreateItemCommand) (*Item, error) {
	if cmd.StartingPrice <= 0 {
		return nil, ErrInvalidStartPrice
	}
	if !cmd.EndAt.After(cmd.StartAt) || !cmd.EndAt.After(time.Now()) {
		return nil, ErrInvalidTimeWindow
	}

	item := &Item{
		ID:            uuid.New(),
		SellerID:      cmd.SellerID,
		Title:         cmd.Title,
		StartingPrice: cmd.StartingPrice,
		CurrentPrice:  cmd.StartingPrice,
		Status:        ItemStatusPending,
		StartAt:       cmd.StartAt,
		EndAt:         cmd.EndAt,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// GetItem retrieves an item by ID.
func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	return s.repo.GetItemByID(ctx, itemID)
}

// ListItems retrieves active items with pagination.
func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]*Item, error) {
	return s.repo.ListActiveItems(ctx, limit, offset)
}

// ApplyBid is the cross-service price synchronizer. Multiple consumer
// instances may process redelivered or out-of-order bid events concurrently,
// so the update runs under this service's own per-item distributed lock,
// independent of the bid service's lock.
//
// A bid whose amount does not exceed the current price is dropped, not
// failed: that makes redelivery of an already-applied bid a no-op and makes
// stale out-of-order deliveries harmless.
func (s *Service) ApplyBid(ctx context.Context, itemID, bidderID uuid.UUID, amount int64) error {
	key := dlock.Key(catalogItemLockKind, itemID.String())
	token, err := s.locks.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, dlock.ErrNotAcquired) {
			return ErrPriceLockContention
		}
		return fmt.Errorf("failed to acquire price lock: %w", err)
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		released, relErr := s.locks.Release(releaseCtx, key, token)
		if relErr != nil {
			s.logger.Error("failed to release price lock", "key", key, "error", relErr)
		} else if !released {
			s.logger.Warn("price lock expired before release", "key", key)
		}
	}()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.repo.GetItemByIDForUpdate(ctx, tx, itemID)
	if err != nil {
		return err
	}

	if amount <= item.CurrentPrice {
		s.logger.Debug("ignoring stale or duplicate bid",
			"item_id", itemID, "amount", amount, "current_price", item.CurrentPrice)
		return nil
	}

	if err := s.repo.UpdatePrice(ctx, tx, itemID, amount, bidderID); err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit price update: %w", err)
	}

	s.logger.Info("price synchronized",
		"item_id", itemID, "amount", amount, "winner_id", bidderID)
	return nil
}

// RunLifecycle performs one scheduler pass: activate due PENDING items and
// end due ACTIVE items. Every transition runs in its own transaction so one
// item's failure never aborts the batch or rolls back the others.
func (s *Service) RunLifecycle(ctx context.Context, now time.Time) TransitionSummary {
	var summary TransitionSummary

	pending, err := s.repo.ListDuePending(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due pending items", "error", err)
	} else {
		for _, item := range pending {
			if err := s.startItem(ctx, item); err != nil {
				s.logger.Error("failed to start auction", "item_id", item.ID, "error", err)
				summary.Failed++
				continue
			}
			summary.Started++
		}
	}

	active, err := s.repo.ListDueActive(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due active items", "error", err)
	} else {
		for _, item := range active {
			if err := s.endItem(ctx, item); err != nil {
				s.logger.Error("failed to end auction", "item_id", item.ID, "error", err)
				summary.Failed++
				continue
			}
			summary.Ended++
		}
	}

	if summary.Started > 0 || summary.Ended > 0 || summary.Failed > 0 {
		s.logger.Info("lifecycle run complete",
			"started", summary.Started, "ended", summary.Ended, "failed", summary.Failed)
	}
	return summary
}

// startItem transitions one item to ACTIVE and stages its started event in
// the same transaction.
func (s *Service) startItem(ctx context.Context, item *Item) error {
	env, err := events.NewEnvelope(events.TypeAuctionStarted, events.AuctionStarted{
		ItemID:        item.ID.String(),
		StartingPrice: item.StartingPrice,
		EndTime:       item.EndAt,
	})
	if err != nil {
		return fmt.Errorf("failed to build started event: %w", err)
	}
	return s.transition(ctx, item.ID, ItemStatusPending, ItemStatusActive, env)
}

// endItem transitions one item to ENDED; the event carries the final price
// and winner.
func (s *Service) endItem(ctx context.Context, item *Item) error {
	payload := events.AuctionEnded{
		ItemID:     item.ID.String(),
		FinalPrice: item.CurrentPrice,
	}
	if item.WinnerID != nil {
		payload.WinnerID = item.WinnerID.String()
	}
	env, err := events.NewEnvelope(events.TypeAuctionEnded, payload)
	if err != nil {
		return fmt.Errorf("failed to build ended event: %w", err)
	}
	return s.transition(ctx, item.ID, ItemStatusActive, ItemStatusEnded, env)
}

// transition is the unit of work for a single item: status change and outbox
// record commit or roll back together.
func (s *Service) transition(ctx context.Context, itemID uuid.UUID, from, to ItemStatus, env *events.Envelope) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := s.repo.UpdateStatus(ctx, tx, itemID, from, to); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	outboxEvent, err := events.NewOutboxEvent(env)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return tx.Commit(ctx)
}
