// Package cache implements the two-tier auction status cache on Redis.
// The two entries expire on different schedules: the ended marker is a
// long-lived tombstone, while the metadata projection never outlives the
// auction by much. A single entry cannot express "definitely active" vs
// "definitely unknown", which is why both signals exist.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

const (
	metaKeyPrefix  = "auction:meta:"
	endedKeyPrefix = "auction:ended:"

	// EndedMarkerTTL keeps tombstones around long after the auction closes
	// so most late bids are rejected without touching the catalog.
	EndedMarkerTTL = 7 * 24 * time.Hour

	// metadataTTLMargin keeps the projection alive slightly past the end
	// time, so the "endTime in the past" check can still fire from cache.
	metadataTTLMargin = 5 * time.Minute
	metadataTTLFloor  = 30 * time.Second
)

// RedisStatusCache implements bids.StatusCache.
type RedisStatusCache struct {
	rdb *redis.Client
}

// NewRedisStatusCache creates the cache on an existing Redis connection.
func NewRedisStatusCache(rdb *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb}
}

// GetEndedMarker returns the tombstone for an item, or nil when absent.
func (c *RedisStatusCache) GetEndedMarker(ctx context.Context, itemID uuid.UUID) (*bids.EndedMarker, error) {
	val, err := c.rdb.Get(ctx, endedKeyPrefix+itemID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ended marker: %w", err)
	}

	endAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("corrupt ended marker for %s: %w", itemID, err)
	}
	return &bids.EndedMarker{ItemID: itemID, EndAt: endAt}, nil
}

// SetEndedMarker writes the tombstone with its long TTL.
func (c *RedisStatusCache) SetEndedMarker(ctx context.Context, itemID uuid.UUID, endAt time.Time) error {
	err := c.rdb.Set(ctx, endedKeyPrefix+itemID.String(), endAt.UTC().Format(time.RFC3339Nano), EndedMarkerTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to write ended marker: %w", err)
	}
	return nil
}

// GetMetadata returns the cached projection, or nil when absent.
func (c *RedisStatusCache) GetMetadata(ctx context.Context, itemID uuid.UUID) (*bids.AuctionMetadata, error) {
	val, err := c.rdb.Get(ctx, metaKeyPrefix+itemID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read auction metadata: %w", err)
	}

	var meta bids.AuctionMetadata
	if err := json.Unmarshal(val, &meta); err != nil {
		return nil, fmt.Errorf("corrupt auction metadata for %s: %w", itemID, err)
	}
	return &meta, nil
}

// SetMetadata writes the projection with a TTL tied to the auction duration.
func (c *RedisStatusCache) SetMetadata(ctx context.Context, meta *bids.AuctionMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal auction metadata: %w", err)
	}

	ttl := metadataTTL(meta.EndAt, time.Now())
	if err := c.rdb.Set(ctx, metaKeyPrefix+meta.ItemID.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write auction metadata: %w", err)
	}
	return nil
}

// metadataTTL sizes the projection's lifetime against the auction clock so a
// stale ACTIVE entry cannot survive far past the true end time.
func metadataTTL(endAt, now time.Time) time.Duration {
	ttl := endAt.Sub(now) + metadataTTLMargin
	if ttl < metadataTTLFloor {
		ttl = metadataTTLFloor
	}
	return ttl
}
