// Package dlock provides a Redis-backed distributed lock used to serialize
// critical sections across service instances. Acquisition is non-blocking:
// contention is surfaced to the caller instead of queueing waiters.
package dlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is currently held by someone else.
// It signals "retry shortly", not a fatal failure.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the lock key only if it still holds the caller's
// token. A plain GET-then-DEL would race: the lock could expire and be
// re-acquired by a third party between the two round trips, and we would
// delete their lock. The compare and the delete must be one server-side
// operation.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Key builds a lock key in the shared namespace. Every subsystem locking the
// same entity must go through this helper so their critical sections actually
// serialize against each other.
func Key(kind, id string) string {
	return "lock:" + kind + ":" + id
}

// Client acquires and releases named locks against a shared Redis instance.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a lock client on top of an existing Redis connection.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Acquire attempts to take the lock with a single atomic SET NX PX. On
// success it returns a random token that proves ownership; ownership is
// token equality, not process identity, since any instance may hold the lock.
// The TTL must cover the expected critical-section duration plus margin and
// stay below any upstream request timeout.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

// Release frees the lock if the token still owns it. It returns false when
// the lock had already expired or was taken over by another holder; that is
// not an error, but callers may want to log it since it means the critical
// section outlived the TTL.
func (c *Client) Release(ctx context.Context, key, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return deleted == 1, nil
}
