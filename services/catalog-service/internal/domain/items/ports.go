package items

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/pkg/events"
)

// Repository defines the interface for item persistence
type Repository interface {
	// CreateItem inserts a new PENDING item.
	CreateItem(ctx context.Context, item *Item) error

	// GetItemByID retrieves an item; returns ErrItemNotFound for unknown ids.
	GetItemByID(ctx context.Context, itemID uuid.UUID) (*Item, error)

	// GetItemByIDForUpdate locks the item row for the duration of the
	// transaction. Must be called within a transaction.
	GetItemByIDForUpdate(ctx context.Context, tx database.Tx, itemID uuid.UUID) (*Item, error)

	// UpdatePrice sets current price and winner together within a transaction.
	UpdatePrice(ctx context.Context, tx database.Tx, itemID uuid.UUID, amount int64, winnerID uuid.UUID) error

	// UpdateStatus moves the item from one lifecycle state to the next within
	// a transaction. The from state guards against double transitions:
	// lifecycle moves are strictly forward-only.
	UpdateStatus(ctx context.Context, tx database.Tx, itemID uuid.UUID, from, to ItemStatus) error

	// ListDuePending returns PENDING items whose start time has passed.
	ListDuePending(ctx context.Context, now time.Time) ([]*Item, error)

	// ListDueActive returns ACTIVE items whose end time has passed.
	ListDueActive(ctx context.Context, now time.Time) ([]*Item, error)

	// ListActiveItems retrieves active items with pagination.
	ListActiveItems(ctx context.Context, limit, offset int) ([]*Item, error)
}

// Locker serializes price updates per item across consumer instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// OutboxRepository stages lifecycle events in the item transaction.
type OutboxRepository = events.OutboxRepository
