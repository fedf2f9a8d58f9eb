package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
)

// PostgresItemRepository implements items.Repository using pgx
type PostgresItemRepository struct {
	pool *pgxpool.Pool // non-transactional reads go through the pool
}

// NewPostgresItemRepository creates a new PostgreSQL item repository
func NewPostgresItemRepository(pool *pgxpool.Pool) *PostgresItemRepository {
	return &PostgresItemRepository{pool: pool}
}

const itemColumns = `id, seller_id, title, starting_price, current_price, winner_id, status, start_at, end_at, created_at, updated_at`

// CreateItem inserts a new item row.
func (r *PostgresItemRepository) CreateItem(ctx context.Context, item *items.Item) error {
	query := `
		INSERT INTO items (id, seller_id, title, starting_price, current_price, winner_id, status, start_at, end_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::item_status, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.SellerID,
		item.Title,
		item.StartingPrice,
		item.CurrentPrice,
		item.WinnerID,
		item.Status,
		item.StartAt,
		item.EndAt,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// GetItemByID retrieves an item by its ID (non-transactional read)
func (r *PostgresItemRepository) GetItemByID(ctx context.Context, itemID uuid.UUID) (*items.Item, error) {
	return r.getItemByID(ctx, r.pool, itemID, false)
}

// GetItemByIDForUpdate retrieves an item and locks its row for the duration
// of the transaction.
func (r *PostgresItemRepository) GetItemByIDForUpdate(ctx context.Context, tx pkgdb.Tx, itemID uuid.UUID) (*items.Item, error) {
	return r.getItemByID(ctx, tx, itemID, true)
}

func (r *PostgresItemRepository) getItemByID(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID, forUpdate bool) (*items.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	item, err := scanItem(db.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, items.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// UpdatePrice sets the current price and winner together.
func (r *PostgresItemRepository) UpdatePrice(ctx context.Context, tx pkgdb.Tx, itemID uuid.UUID, amount int64, winnerID uuid.UUID) error {
	query := `
		UPDATE items
		SET current_price = $1, winner_id = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := tx.Exec(ctx, query, amount, winnerID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	if result.RowsAffected() == 0 {
		return items.ErrItemNotFound
	}
	return nil
}

// UpdateStatus advances the lifecycle state. The from guard makes the update
// a no-op when another writer already moved the item, keeping transitions
// forward-only.
func (r *PostgresItemRepository) UpdateStatus(ctx context.Context, tx pkgdb.Tx, itemID uuid.UUID, from, to items.ItemStatus) error {
	query := `
		UPDATE items
		SET status = $1::item_status, updated_at = NOW()
		WHERE id = $2 AND status = $3::item_status
	`
	result, err := tx.Exec(ctx, query, to, itemID, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("item %s is not in status %s", itemID, from)
	}
	return nil
}

// ListDuePending returns PENDING items whose start time has passed.
func (r *PostgresItemRepository) ListDuePending(ctx context.Context, now time.Time) ([]*items.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = 'PENDING' AND start_at <= $1 ORDER BY start_at ASC`
	return r.listItems(ctx, query, now)
}

// ListDueActive returns ACTIVE items whose end time has passed.
func (r *PostgresItemRepository) ListDueActive(ctx context.Context, now time.Time) ([]*items.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = 'ACTIVE' AND end_at <= $1 ORDER BY end_at ASC`
	return r.listItems(ctx, query, now)
}

// ListActiveItems retrieves active items with pagination.
func (r *PostgresItemRepository) ListActiveItems(ctx context.Context, limit, offset int) ([]*items.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = 'ACTIVE' ORDER BY end_at ASC LIMIT $1 OFFSET $2`
	return r.listItems(ctx, query, limit, offset)
}

func (r *PostgresItemRepository) listItems(ctx context.Context, query string, args ...any) ([]*items.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var result []*items.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return result, nil
}

func scanItem(row pgx.Row) (*items.Item, error) {
	var item items.Item
	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.Title,
		&item.StartingPrice,
		&item.CurrentPrice,
		&item.WinnerID,
		&item.Status,
		&item.StartAt,
		&item.EndAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
