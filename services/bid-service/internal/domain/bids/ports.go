package bids

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/events"
)

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// SaveBid appends a bid. Bids are never updated in place.
	SaveBid(ctx context.Context, bid *Bid) error

	// GetHighestBid returns the current highest bid for an item, or nil when
	// the item has no bids yet.
	GetHighestBid(ctx context.Context, itemID uuid.UUID) (*Bid, error)

	// GetBidsByItemID retrieves all bids for an item, newest first.
	GetBidsByItemID(ctx context.Context, itemID uuid.UUID) ([]*Bid, error)
}

// StatusCache is the two-tier auction status cache. All reads return
// (nil, nil) on a miss; a miss means "unknown", and the caller must fall
// through to the authoritative source.
type StatusCache interface {
	GetEndedMarker(ctx context.Context, itemID uuid.UUID) (*EndedMarker, error)
	SetEndedMarker(ctx context.Context, itemID uuid.UUID, endAt time.Time) error

	GetMetadata(ctx context.Context, itemID uuid.UUID) (*AuctionMetadata, error)
	SetMetadata(ctx context.Context, meta *AuctionMetadata) error
}

// CatalogClient fetches authoritative item state from the catalog service.
type CatalogClient interface {
	// GetItem returns ErrItemNotFound for unknown items; any other error is
	// transient.
	GetItem(ctx context.Context, itemID uuid.UUID) (*CatalogItem, error)
}

// Locker is the distributed lock used to serialize bids per item across
// service instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// Publisher re-exports the event fabric contract for this domain.
type Publisher = events.Publisher
