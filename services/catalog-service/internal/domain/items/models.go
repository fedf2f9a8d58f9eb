package items

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the auction lifecycle state. Transitions are strictly
// forward-only: PENDING -> ACTIVE -> ENDED.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "PENDING"
	ItemStatusActive  ItemStatus = "ACTIVE"
	ItemStatusEnded   ItemStatus = "ENDED"
)

// Item is the authoritative auction record. CurrentPrice is monotonically
// non-decreasing once the auction starts and always equals the highest
// applied bid (or the starting price before any bid).
type Item struct {
	ID            uuid.UUID  `db:"id"`
	SellerID      uuid.UUID  `db:"seller_id"`
	Title         string     `db:"title"`
	StartingPrice int64      `db:"starting_price"` // minor units
	CurrentPrice  int64      `db:"current_price"`
	WinnerID      *uuid.UUID `db:"winner_id"`
	Status        ItemStatus `db:"status"`
	StartAt       time.Time  `db:"start_at"`
	EndAt         time.Time  `db:"end_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// CreateItemCommand represents the command to list a new item for auction.
type CreateItemCommand struct {
	SellerID      uuid.UUID
	Title         string
	StartingPrice int64
	StartAt       time.Time
	EndAt         time.Time
}

// TransitionSummary tallies one lifecycle run. Failures are isolated per
// item, so Started+Ended can be non-zero even when Failed is too.
type TransitionSummary struct {
	Started int
	Ended   int
	Failed  int
}
