// Package catalog is the HTTP client for the catalog service, the
// authoritative source of item state used as the cache fallback.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

const (
	// requestTimeout is independent of the bid lock TTL; the fallback fetch
	// must give up well before the lock would expire.
	requestTimeout = 2 * time.Second

	maxRetries      = 1 // 2 attempts total
	initialInterval = 100 * time.Millisecond
)

// Client implements bids.CatalogClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// GetItem fetches the authoritative item record. "Not found" is terminal and
// mapped to bids.ErrItemNotFound; server errors and timeouts are retried once
// with backoff and then propagate as transient failures.
func (c *Client) GetItem(ctx context.Context, itemID uuid.UUID) (*bids.CatalogItem, error) {
	url := fmt.Sprintf("%s/v1/items/%s", c.baseURL, itemID)

	var item *bids.CatalogItem
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("catalog request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var decoded bids.CatalogItem
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode item: %w", err))
			}
			item = &decoded
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(bids.ErrItemNotFound)
		default:
			return fmt.Errorf("catalog returned status %d", resp.StatusCode)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)); err != nil {
		return nil, err
	}
	return item, nil
}
