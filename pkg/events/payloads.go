package events

import "time"

// BidPlaced is emitted by the bid service after every persisted bid.
type BidPlaced struct {
	BidID     string    `json:"bidId"`
	ItemID    string    `json:"itemId"`
	BidderID  string    `json:"bidderId"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// BidOutbid is emitted when a new highest bid displaces a different bidder's
// previous highest bid. It is not emitted when a bidder raises their own bid.
type BidOutbid struct {
	ItemID           string    `json:"itemId"`
	PreviousBidderID string    `json:"previousBidderId"`
	PreviousAmount   int64     `json:"previousAmount"`
	NewAmount        int64     `json:"newAmount"`
	Timestamp        time.Time `json:"timestamp"`
}

// AuctionStarted is emitted by the lifecycle scheduler when an item goes
// PENDING -> ACTIVE.
type AuctionStarted struct {
	ItemID        string    `json:"itemId"`
	StartingPrice int64     `json:"startingPrice"`
	EndTime       time.Time `json:"endTime"`
}

// AuctionEnded is emitted when an item goes ACTIVE -> ENDED. WinnerID is
// empty when the auction closed without bids.
type AuctionEnded struct {
	ItemID     string `json:"itemId"`
	FinalPrice int64  `json:"finalPrice"`
	WinnerID   string `json:"winnerId,omitempty"`
}
