package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

// PostgresBidRepository implements bids.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// SaveBid appends a bid row. There is no update path; the table is insert-only.
func (r *PostgresBidRepository) SaveBid(ctx context.Context, bid *bids.Bid) error {
	query := `
		INSERT INTO bids (id, item_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		bid.ID,
		bid.ItemID,
		bid.BidderID,
		bid.Amount,
		bid.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// GetHighestBid returns the current leader for an item. Amount ties are
// broken by insertion order, so the earliest bid at the max amount wins.
func (r *PostgresBidRepository) GetHighestBid(ctx context.Context, itemID uuid.UUID) (*bids.Bid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1
	`
	var bid bids.Bid
	err := r.pool.QueryRow(ctx, query, itemID).Scan(
		&bid.ID,
		&bid.ItemID,
		&bid.BidderID,
		&bid.Amount,
		&bid.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return &bid, nil
}

// GetBidsByItemID retrieves all bids for an item
func (r *PostgresBidRepository) GetBidsByItemID(ctx context.Context, itemID uuid.UUID) ([]*bids.Bid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*bids.Bid
	for rows.Next() {
		var bid bids.Bid
		if err := rows.Scan(
			&bid.ID,
			&bid.ItemID,
			&bid.BidderID,
			&bid.Amount,
			&bid.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		result = append(result, &bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}

	return result, nil
}
