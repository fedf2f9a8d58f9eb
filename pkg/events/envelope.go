package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types double as routing keys on the topic exchange, following the
// <producer-domain>.<kebab-case-event-name> convention.
const (
	TypeBidPlaced      = "bids.bid-placed"
	TypeBidOutbid      = "bids.bid-outbid"
	TypeAuctionStarted = "auctions.auction-started"
	TypeAuctionEnded   = "auctions.auction-ended"
)

// Envelope is the wire format shared by all events. EventID is an idempotency
// hint for consumers; delivery is at-least-once.
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps a payload in a fresh envelope.
func NewEnvelope(eventType string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return nil
}
