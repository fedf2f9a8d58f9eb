package bids

import (
	"time"

	"github.com/google/uuid"
)

// Bid is an append-only record; bids are never mutated or deleted. The
// winning bid for an item is derived as the bid with the maximum amount.
type Bid struct {
	ID        uuid.UUID `db:"id"`
	ItemID    uuid.UUID `db:"item_id"`
	BidderID  uuid.UUID `db:"bidder_id"`
	Amount    int64     `db:"amount"` // minor units
	CreatedAt time.Time `db:"created_at"`
}

// AuctionStatus mirrors the authoritative item lifecycle.
type AuctionStatus string

const (
	StatusPending AuctionStatus = "PENDING"
	StatusActive  AuctionStatus = "ACTIVE"
	StatusEnded   AuctionStatus = "ENDED"
)

// AuctionMetadata is the cached projection of authoritative auction state.
// It is advisory: absence means "unknown", never "active" or "ended".
type AuctionMetadata struct {
	ItemID        uuid.UUID     `json:"itemId"`
	Status        AuctionStatus `json:"status"`
	StartingPrice int64         `json:"startingPrice"`
	EndAt         time.Time     `json:"endAt"`
}

// EndedMarker is a long-lived cache entry whose presence alone means the
// auction is over.
type EndedMarker struct {
	ItemID uuid.UUID
	EndAt  time.Time
}

// CatalogItem is the authoritative item record as served by the catalog
// service.
type CatalogItem struct {
	ID            uuid.UUID     `json:"id"`
	Status        AuctionStatus `json:"status"`
	StartingPrice int64         `json:"startingPrice"`
	CurrentPrice  int64         `json:"currentPrice"`
	StartAt       time.Time     `json:"startTime"`
	EndAt         time.Time     `json:"endTime"`
}

// PlaceBidCommand represents the command to place a bid
type PlaceBidCommand struct {
	ItemID   uuid.UUID
	BidderID uuid.UUID
	Amount   int64
}
