package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgevents "github.com/auctionlab/paddle/pkg/events"
	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
)

type mockPriceSync struct {
	mock.Mock
}

func (m *mockPriceSync) ApplyBid(ctx context.Context, itemID, bidderID uuid.UUID, amount int64) error {
	args := m.Called(ctx, itemID, bidderID, amount)
	return args.Error(0)
}

func bidPlacedEnvelope(t *testing.T, payload pkgevents.BidPlaced) *pkgevents.Envelope {
	t.Helper()
	env, err := pkgevents.NewEnvelope(pkgevents.TypeBidPlaced, payload)
	require.NoError(t, err)
	return env
}

func TestHandleBidPlaced(t *testing.T) {
	itemID := uuid.New()
	bidderID := uuid.New()

	service := new(mockPriceSync)
	service.On("ApplyBid", mock.Anything, itemID, bidderID, int64(15000)).Return(nil)

	env := bidPlacedEnvelope(t, pkgevents.BidPlaced{
		BidID:    uuid.NewString(),
		ItemID:   itemID.String(),
		BidderID: bidderID.String(),
		Amount:   15000,
	})

	require.NoError(t, handleBidPlaced(service)(context.Background(), env))
	service.AssertExpectations(t)
}

func TestHandleBidPlaced_BadIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		payload pkgevents.BidPlaced
	}{
		{"bad item id", pkgevents.BidPlaced{ItemID: "nope", BidderID: uuid.NewString(), Amount: 100}},
		{"bad bidder id", pkgevents.BidPlaced{ItemID: uuid.NewString(), BidderID: "nope", Amount: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(mockPriceSync)
			env := bidPlacedEnvelope(t, tt.payload)

			err := handleBidPlaced(service)(context.Background(), env)

			assert.ErrorIs(t, err, errMalformedEvent)
			service.AssertNotCalled(t, "ApplyBid",
				mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleBidPlaced_UndecodablePayload(t *testing.T) {
	service := new(mockPriceSync)
	env := &pkgevents.Envelope{
		EventID:   uuid.New(),
		EventType: pkgevents.TypeBidPlaced,
		Data:      json.RawMessage(`{"amount": "not a number"}`),
	}

	err := handleBidPlaced(service)(context.Background(), env)
	assert.ErrorIs(t, err, errMalformedEvent)
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(errMalformedEvent))
	assert.False(t, retryable(items.ErrItemNotFound))
	assert.True(t, retryable(items.ErrPriceLockContention))
	assert.True(t, retryable(errors.New("connection reset")))
}
