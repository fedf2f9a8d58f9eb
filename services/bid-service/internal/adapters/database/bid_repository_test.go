package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionlab/paddle/pkg/testhelpers"
	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

func setupRepo(t *testing.T) *PostgresBidRepository {
	t.Helper()
	td := testhelpers.NewTestDatabase(t, "../../../migrations")
	t.Cleanup(td.Close)
	return NewPostgresBidRepository(td.Pool)
}

func newBid(itemID uuid.UUID, amount int64, createdAt time.Time) *bids.Bid {
	return &bids.Bid{
		ID:        uuid.New(),
		ItemID:    itemID,
		BidderID:  uuid.New(),
		Amount:    amount,
		CreatedAt: createdAt,
	}
}

func TestGetHighestBid(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	itemID := uuid.New()

	highest, err := repo.GetHighestBid(ctx, itemID)
	require.NoError(t, err)
	assert.Nil(t, highest, "no bids yet")

	now := time.Now()
	low := newBid(itemID, 10000, now.Add(-2*time.Minute))
	high := newBid(itemID, 15000, now.Add(-time.Minute))
	otherItem := newBid(uuid.New(), 99999, now)

	for _, b := range []*bids.Bid{low, high, otherItem} {
		require.NoError(t, repo.SaveBid(ctx, b))
	}

	highest, err = repo.GetHighestBid(ctx, itemID)
	require.NoError(t, err)
	require.NotNil(t, highest)
	assert.Equal(t, high.ID, highest.ID)
	assert.Equal(t, int64(15000), highest.Amount)
}

func TestGetHighestBid_TieBrokenByInsertionOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	itemID := uuid.New()

	now := time.Now()
	first := newBid(itemID, 15000, now.Add(-time.Minute))
	second := newBid(itemID, 15000, now)

	require.NoError(t, repo.SaveBid(ctx, first))
	require.NoError(t, repo.SaveBid(ctx, second))

	highest, err := repo.GetHighestBid(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, highest.ID, "earliest bid at the max amount wins")
}

func TestGetBidsByItemID_NewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	itemID := uuid.New()

	now := time.Now()
	older := newBid(itemID, 10000, now.Add(-time.Hour))
	newer := newBid(itemID, 12000, now)

	require.NoError(t, repo.SaveBid(ctx, older))
	require.NoError(t, repo.SaveBid(ctx, newer))

	history, err := repo.GetBidsByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ID)
	assert.Equal(t, older.ID, history[1].ID)
}
