// Package events wires the price synchronizer to the bid-placed stream.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgevents "github.com/auctionlab/paddle/pkg/events"
	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
)

const (
	exchange       = "auction.events"
	priceSyncQueue = "catalog_price_sync"
)

// errMalformedEvent marks payloads that can never be processed.
var errMalformedEvent = errors.New("malformed bid event")

// PriceSync applies bid-placed events to the authoritative item price.
type PriceSync interface {
	ApplyBid(ctx context.Context, itemID, bidderID uuid.UUID, amount int64) error
}

// NewBidConsumer builds the consumer for bid-placed events. Malformed
// payloads and unknown items are permanent failures; everything else,
// including lock contention between consumer instances, is retried before
// dead-lettering.
func NewBidConsumer(conn *amqp.Connection, service PriceSync, logger *slog.Logger) *pkgevents.Consumer {
	return pkgevents.NewConsumer(conn, pkgevents.ConsumerConfig{
		Exchange:  exchange,
		Queue:     priceSyncQueue,
		Bindings:  []string{pkgevents.TypeBidPlaced},
		Handler:   handleBidPlaced(service),
		Retryable: retryable,
	}, logger)
}

func handleBidPlaced(service PriceSync) pkgevents.HandlerFunc {
	return func(ctx context.Context, env *pkgevents.Envelope) error {
		var payload pkgevents.BidPlaced
		if err := env.Decode(&payload); err != nil {
			return fmt.Errorf("%w: %w", errMalformedEvent, err)
		}

		itemID, err := uuid.Parse(payload.ItemID)
		if err != nil {
			return fmt.Errorf("%w: bad item id %q", errMalformedEvent, payload.ItemID)
		}
		bidderID, err := uuid.Parse(payload.BidderID)
		if err != nil {
			return fmt.Errorf("%w: bad bidder id %q", errMalformedEvent, payload.BidderID)
		}

		return service.ApplyBid(ctx, itemID, bidderID, payload.Amount)
	}
}

func retryable(err error) bool {
	if errors.Is(err, errMalformedEvent) || errors.Is(err, items.ErrItemNotFound) {
		return false
	}
	return true
}
