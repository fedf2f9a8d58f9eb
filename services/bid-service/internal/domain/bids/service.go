package bids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/dlock"
	"github.com/auctionlab/paddle/pkg/events"
)

// Validation and contention errors. Each maps to a distinct machine-readable
// rejection at the API boundary: "not yet started" and "already ended" must
// stay distinguishable because the right client behavior differs (retry
// later vs never).
var (
	ErrInvalidAmount     = errors.New("bid amount must be positive")
	ErrBidTooLow         = errors.New("bid amount is too low")
	ErrAuctionNotStarted = errors.New("auction has not started")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrItemNotFound      = errors.New("item not found")
	ErrLockContention    = errors.New("item is locked by a concurrent bid, retry shortly")
)

const itemLockKind = "item"

// Service is the bid placement engine. Per request it runs
// validate status -> acquire lock -> validate amount -> persist -> publish,
// releasing the per-item lock on every exit path.
type Service struct {
	bidRepo   BidRepository
	cache     StatusCache
	catalog   CatalogClient
	locks     Locker
	publisher Publisher
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewService creates the bid placement engine. lockTTL must exceed the
// expected critical-section duration (sub-second) with margin, and stay
// below upstream request timeouts.
func NewService(
	bidRepo BidRepository,
	cache StatusCache,
	catalog CatalogClient,
	locks Locker,
	publisher Publisher,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		bidRepo:   bidRepo,
		cache:     cache,
		catalog:   catalog,
		locks:     locks,
		publisher: publisher,
		lockTTL:   lockTTL,
		logger:    logger,
	}
}

// PlaceBid validates and commits a bid. Exactly one concurrent attempt per
// item can be inside the critical section at a time; the distributed lock is
// the only serialization point, since multiple service instances run in
// parallel.
func (s *Service) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*Bid, error) {
	if cmd.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Cheap rejection path: status is checked before taking the lock.
	meta, err := s.resolveAuction(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	key := dlock.Key(itemLockKind, cmd.ItemID.String())
	token, err := s.locks.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, dlock.ErrNotAcquired) {
			return nil, ErrLockContention
		}
		return nil, fmt.Errorf("failed to acquire bid lock: %w", err)
	}
	defer func() {
		// Release must run even when the caller's context is already gone;
		// the TTL is only the backstop for crashes.
		releaseCtx := context.WithoutCancel(ctx)
		released, relErr := s.locks.Release(releaseCtx, key, token)
		if relErr != nil {
			s.logger.Error("failed to release bid lock", "key", key, "error", relErr)
		} else if !released {
			s.logger.Warn("bid lock expired before release", "key", key)
		}
	}()

	previous, err := s.bidRepo.GetHighestBid(ctx, cmd.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read highest bid: %w", err)
	}

	if valErr := validateAmount(cmd.Amount, previous, meta.StartingPrice); valErr != nil {
		return nil, valErr
	}

	bid := &Bid{
		ID:        uuid.New(),
		ItemID:    cmd.ItemID,
		BidderID:  cmd.BidderID,
		Amount:    cmd.Amount,
		CreatedAt: time.Now(),
	}

	if saveErr := s.bidRepo.SaveBid(ctx, bid); saveErr != nil {
		return nil, fmt.Errorf("failed to save bid: %w", saveErr)
	}

	// A persisted bid is final; publish failures do not roll it back, but
	// they must surface loudly since downstream price sync depends on them.
	s.publishBidEvents(ctx, bid, previous)

	return bid, nil
}

// GetBidsForItem returns the bid history for an item, newest first.
func (s *Service) GetBidsForItem(ctx context.Context, itemID uuid.UUID) ([]*Bid, error) {
	bids, err := s.bidRepo.GetBidsByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// validateAmount enforces highest-price-wins. Follow-up bids must be strictly
// greater than the current highest (equal amounts are rejected, so the first
// bid at a given amount stands). A first bid must meet the starting price.
func validateAmount(amount int64, previous *Bid, startingPrice int64) error {
	if previous != nil {
		if amount <= previous.Amount {
			return ErrBidTooLow
		}
		return nil
	}
	if amount < startingPrice {
		return ErrBidTooLow
	}
	return nil
}

// resolveAuction applies the cache-first validation strategy:
//  1. ended marker (long TTL) -> reject immediately
//  2. metadata projection     -> ended/pending/active decision
//  3. authoritative fetch     -> warms both tiers; fail-closed on error
func (s *Service) resolveAuction(ctx context.Context, itemID uuid.UUID) (*AuctionMetadata, error) {
	marker, err := s.cache.GetEndedMarker(ctx, itemID)
	if err != nil {
		// Cache trouble is never a reason to guess; fall through to the
		// slower tiers.
		s.logger.Warn("ended-marker lookup failed", "item_id", itemID, "error", err)
	}
	if marker != nil {
		return nil, endedError(marker.EndAt)
	}

	meta, err := s.cache.GetMetadata(ctx, itemID)
	if err != nil {
		s.logger.Warn("metadata lookup failed", "item_id", itemID, "error", err)
	}
	if meta != nil {
		// The marker TTL can lapse before the auction record does; the
		// projection's end time closes that gap.
		if time.Now().After(meta.EndAt) {
			s.warmEndedMarker(ctx, itemID, meta.EndAt)
			return nil, endedError(meta.EndAt)
		}
		switch meta.Status {
		case StatusActive:
			return meta, nil
		case StatusPending:
			return nil, ErrAuctionNotStarted
		case StatusEnded:
			s.warmEndedMarker(ctx, itemID, meta.EndAt)
			return nil, endedError(meta.EndAt)
		}
	}

	return s.fetchAuthoritative(ctx, itemID)
}

// fetchAuthoritative queries the catalog service and warms the cache.
// Failures propagate: an unreachable source of truth must reject the bid,
// never allow it.
func (s *Service) fetchAuthoritative(ctx context.Context, itemID uuid.UUID) (*AuctionMetadata, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("authoritative item lookup failed: %w", err)
	}

	meta := &AuctionMetadata{
		ItemID:        item.ID,
		Status:        item.Status,
		StartingPrice: item.StartingPrice,
		EndAt:         item.EndAt,
	}
	if cacheErr := s.cache.SetMetadata(ctx, meta); cacheErr != nil {
		s.logger.Warn("failed to warm metadata cache", "item_id", itemID, "error", cacheErr)
	}

	ended := item.Status == StatusEnded || time.Now().After(item.EndAt)
	if ended {
		s.warmEndedMarker(ctx, itemID, item.EndAt)
		return nil, endedError(item.EndAt)
	}
	if item.Status == StatusPending {
		return nil, ErrAuctionNotStarted
	}
	return meta, nil
}

func (s *Service) warmEndedMarker(ctx context.Context, itemID uuid.UUID, endAt time.Time) {
	if err := s.cache.SetEndedMarker(ctx, itemID, endAt); err != nil {
		s.logger.Warn("failed to warm ended marker", "item_id", itemID, "error", err)
	}
}

func endedError(endAt time.Time) error {
	return fmt.Errorf("%w at %s", ErrAuctionEnded, endAt.UTC().Format(time.RFC3339))
}

// publishBidEvents emits bid-placed unconditionally and outbid only when a
// different bidder held the previous highest bid.
func (s *Service) publishBidEvents(ctx context.Context, bid *Bid, previous *Bid) {
	placed, err := events.NewEnvelope(events.TypeBidPlaced, events.BidPlaced{
		BidID:     bid.ID.String(),
		ItemID:    bid.ItemID.String(),
		BidderID:  bid.BidderID.String(),
		Amount:    bid.Amount,
		Timestamp: bid.CreatedAt,
	})
	if err != nil {
		s.logger.Error("failed to build bid-placed event", "bid_id", bid.ID, "error", err)
	} else if pubErr := s.publisher.Publish(ctx, events.TypeBidPlaced, placed); pubErr != nil {
		// The catalog price now lags the actual highest bid until the next
		// successful publish for this item.
		s.logger.Error("failed to publish bid-placed event",
			"bid_id", bid.ID, "item_id", bid.ItemID, "error", pubErr)
	}

	if previous == nil || previous.BidderID == bid.BidderID {
		return
	}

	outbid, err := events.NewEnvelope(events.TypeBidOutbid, events.BidOutbid{
		ItemID:           bid.ItemID.String(),
		PreviousBidderID: previous.BidderID.String(),
		PreviousAmount:   previous.Amount,
		NewAmount:        bid.Amount,
		Timestamp:        bid.CreatedAt,
	})
	if err != nil {
		s.logger.Error("failed to build outbid event", "item_id", bid.ItemID, "error", err)
	} else if pubErr := s.publisher.Publish(ctx, events.TypeBidOutbid, outbid); pubErr != nil {
		s.logger.Error("failed to publish outbid event",
			"item_id", bid.ItemID, "error", pubErr)
	}
}
